/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package persist

import (
	"encoding/gob"
	"io"

	"github.com/gomachina/machina/ml/compose"
	"github.com/gomachina/machina/ml/data"
	"github.com/gomachina/machina/ml/machine"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

func init() {
	// Generic value types that may appear in caches and reports, registered
	// here once instead of by every model package.
	gob.Register([]string{})
	gob.Register([]float64{})
	gob.Register([]int{})
	gob.Register([]any{})
	gob.Register(map[string]any{})
	gob.Register(&data.Table{})
	gob.Register(&machine.Machine{})

	// Composite models live below this package in the dependency order, so
	// they cannot register themselves.
	RegisterModel(&compose.Pipeline{})
	RegisterModel(&compose.Stack{})
	RegisterModel(&compose.Ensemble{})
	RegisterModel(&compose.TunedModel{})
}

// Envelope layout: an 8-byte header followed by the (possibly compressed)
// payload.
//
//	bytes 0..3  magic "MACH"
//	byte  4     envelope version
//	byte  5     format (0 gob, 1 portable binary)
//	byte  6     compression (0 none, 1 gzip)
//	byte  7     reserved, zero
const (
	envelopeMagic   = "MACH"
	envelopeVersion = byte(1)

	formatByteGob    = byte(0)
	formatByteBinary = byte(1)

	compressionByteNone = byte(0)
	compressionByteGzip = byte(1)
)

// writeEnvelope writes the header and the encoded snapshot to w. Format
// checks run before the header, so a rejected machine writes nothing.
func writeEnvelope(w io.Writer, snapshot *machine.Machine, o options) error {
	if o.format == FormatBinary {
		if err := checkBinarySupported(snapshot); err != nil {
			return err
		}
	}
	header := []byte(envelopeMagic)
	header = append(header, envelopeVersion)
	switch o.format {
	case FormatGob:
		header = append(header, formatByteGob)
	case FormatBinary:
		header = append(header, formatByteBinary)
	default:
		return errors.Errorf("unknown format %q", o.format)
	}
	switch o.compression {
	case CompressionNone:
		header = append(header, compressionByteNone)
	case CompressionGzip:
		header = append(header, compressionByteGzip)
	default:
		return errors.Errorf("unknown compression %q", o.compression)
	}
	header = append(header, 0)
	if _, err := w.Write(header); err != nil {
		return errors.Wrapf(err, "failed to write envelope header")
	}

	payload := w
	var gz *gzip.Writer
	if o.compression == CompressionGzip {
		gz = gzip.NewWriter(w)
		payload = gz
	}
	var err error
	switch o.format {
	case FormatGob:
		err = gob.NewEncoder(payload).Encode(snapshot)
	case FormatBinary:
		err = writeBinaryPayload(payload, snapshot)
	}
	if err != nil {
		return err
	}
	if gz != nil {
		if err = gz.Close(); err != nil {
			return errors.Wrapf(err, "failed to flush gzip stream")
		}
	}
	return nil
}

// Sniff reads an envelope header from r and reports the format and
// compression without decoding the payload.
func Sniff(r io.Reader) (Format, Compression, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return "", "", errors.Wrapf(err, "failed to read envelope header")
	}
	if string(header[:4]) != envelopeMagic {
		return "", "", errors.Errorf("not a machine envelope (bad magic %q)", header[:4])
	}
	var format Format
	switch header[5] {
	case formatByteGob:
		format = FormatGob
	case formatByteBinary:
		format = FormatBinary
	default:
		return "", "", errors.Errorf("unknown envelope format byte %d", header[5])
	}
	var compression Compression
	switch header[6] {
	case compressionByteNone:
		compression = CompressionNone
	case compressionByteGzip:
		compression = CompressionGzip
	default:
		return "", "", errors.Errorf("unknown envelope compression byte %d", header[6])
	}
	return format, compression, nil
}

// readEnvelope reads the header, dispatches on it and decodes the snapshot.
// The restore hooks have not run yet on the returned machine.
func readEnvelope(r io.Reader) (*machine.Machine, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errors.Wrapf(err, "failed to read envelope header")
	}
	if string(header[:4]) != envelopeMagic {
		return nil, errors.Errorf("not a machine envelope (bad magic %q)", header[:4])
	}
	if header[4] != envelopeVersion {
		return nil, errors.Errorf("unsupported envelope version %d", header[4])
	}

	payload := r
	switch header[6] {
	case compressionByteNone:
	case compressionByteGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open gzip stream")
		}
		defer func() { _ = gz.Close() }()
		payload = gz
	default:
		return nil, errors.Errorf("unknown envelope compression byte %d", header[6])
	}

	switch header[5] {
	case formatByteGob:
		m := &machine.Machine{}
		if err := gob.NewDecoder(payload).Decode(m); err != nil {
			return nil, errors.Wrapf(err, "failed to decode machine envelope")
		}
		return m, nil
	case formatByteBinary:
		return readBinaryPayload(payload)
	default:
		return nil, errors.Errorf("unknown envelope format byte %d", header[5])
	}
}

// The portable payload is a MessagePack map with three keys: "model" (type
// tag and configuration), "fitresult" (type tag and value) and "report".
// It deliberately carries no Go type information, so it can be produced and
// consumed from other languages.
type wireEnvelope struct {
	Model     wireModel      `msgpack:"model"`
	Fitresult wireFitresult  `msgpack:"fitresult"`
	Report    map[string]any `msgpack:"report"`
}

type wireModel struct {
	Type   string             `msgpack:"type"`
	Config msgpack.RawMessage `msgpack:"config"`
}

type wireFitresult struct {
	Type  string             `msgpack:"type"`
	Value msgpack.RawMessage `msgpack:"value"`
}

// checkBinarySupported verifies the snapshot is expressible in the portable
// format. Machines whose fitted state is a learning network or holds
// sub-machines are not (the format has no way to spell machine sharing),
// and unregistered types cannot be rebuilt on load.
func checkBinarySupported(snapshot *machine.Machine) error {
	fitresult, err := snapshot.Fitresult()
	if err != nil {
		return err
	}
	if _, ok := fitresult.(*compose.Network); ok {
		return errors.Errorf("%s is a composite machine, only the native format (FormatGob) can persist it", snapshot)
	}
	if _, ok := fitresult.(machine.SubMachiner); ok {
		return errors.Errorf("%s holds sub-machines, only the native format (FormatGob) can persist it", snapshot)
	}
	if _, found := modelTypes[snapshot.Model().TypeName()]; !found {
		return errors.Errorf("model type %q is not registered, call persist.RegisterModel from its package init", snapshot.Model().TypeName())
	}
	if tag := FitresultTag(fitresult); fitresultTypes[tag] == nil {
		return errors.Errorf("fitresult type %q is not registered, call persist.RegisterFitresult from its package init", tag)
	}
	return nil
}

// writeBinaryPayload encodes the snapshot in the portable format. The
// snapshot passed checkBinarySupported already.
func writeBinaryPayload(w io.Writer, snapshot *machine.Machine) error {
	fitresult, err := snapshot.Fitresult()
	if err != nil {
		return err
	}
	model := snapshot.Model()
	config, err := msgpack.Marshal(model)
	if err != nil {
		return errors.Wrapf(err, "failed to encode configuration of model %q", model.TypeName())
	}
	tag := FitresultTag(fitresult)
	value, err := msgpack.Marshal(fitresult)
	if err != nil {
		return errors.Wrapf(err, "failed to encode fitresult of %s", snapshot)
	}

	envelope := wireEnvelope{
		Model:     wireModel{Type: model.TypeName(), Config: config},
		Fitresult: wireFitresult{Type: tag, Value: value},
		Report:    portableReport(snapshot.Report()),
	}
	if err = msgpack.NewEncoder(w).Encode(envelope); err != nil {
		return errors.Wrapf(err, "failed to encode portable envelope")
	}
	return nil
}

// portableReport keeps only the report entries expressible as plain data.
func portableReport(report map[string]any) map[string]any {
	if report == nil {
		return nil
	}
	out := make(map[string]any, len(report))
	for k, v := range report {
		switch v.(type) {
		case *machine.Machine, *compose.Network, *data.Table:
			continue
		}
		out[k] = v
	}
	return out
}

// readBinaryPayload decodes a portable envelope into a machine, rebuilding
// the model configuration and fitresult from the registered types.
func readBinaryPayload(r io.Reader) (*machine.Machine, error) {
	var envelope wireEnvelope
	if err := msgpack.NewDecoder(r).Decode(&envelope); err != nil {
		return nil, errors.Wrapf(err, "failed to decode portable envelope")
	}

	model, found := newModel(envelope.Model.Type)
	if !found {
		return nil, errors.Errorf("unknown model type %q, import the package defining it", envelope.Model.Type)
	}
	if len(envelope.Model.Config) > 0 {
		if err := msgpack.Unmarshal(envelope.Model.Config, model); err != nil {
			return nil, errors.Wrapf(err, "failed to decode configuration of model %q", envelope.Model.Type)
		}
	}
	fitresult, found := newFitresult(envelope.Fitresult.Type)
	if !found {
		return nil, errors.Errorf("unknown fitresult type %q, import the package defining it", envelope.Fitresult.Type)
	}
	if err := msgpack.Unmarshal(envelope.Fitresult.Value, fitresult); err != nil {
		return nil, errors.Wrapf(err, "failed to decode fitresult of type %q", envelope.Fitresult.Type)
	}

	m := machine.New(model, machine.EmptySources(numSourcesFor(model))...)
	m.SetFitresult(fitresult)
	m.SetReport(envelope.Report)
	m.SetState(machine.StateSerialized)
	return m, nil
}

// numSourcesFor returns the binding arity of a model: (features, target)
// for a supervised learner, (features) for a transformer.
func numSourcesFor(model machine.Model) int {
	if _, ok := model.(machine.Learner); ok {
		return 2
	}
	return 1
}
