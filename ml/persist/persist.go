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

// Package persist saves trained machines to files or streams and loads them
// back, including composite machines whose fitted state is a learning
// network.
//
// The entry points are Save and Load. Save builds a serializable snapshot
// of the machine (see Serializable): training data is stripped, learning
// networks are rewritten preserving machine sharing, and models with opaque
// fitted state go through their save hook, typically writing a side file
// next to the envelope. Load decodes the envelope, runs restore hooks (see
// Restore) and optionally rebinds fresh data.
//
// Example, saving a trained machine and loading it for prediction:
//
//	mach := machine.Bind(tree.NewRegressor(), xTrain, yTrain)
//	err := mach.Fit()
//	...
//	err = persist.Save("model.machina", mach)
//	...
//	loaded, err := persist.Load("model.machina")
//	...
//	predictions, err := loaded.Predict(xNew)
//
// Two envelope formats are supported: the native Go encoding (FormatGob,
// the default), which round-trips every machine including composites, and
// a portable binary encoding (FormatBinary) readable from other languages,
// limited to machines whose fitted state is plain data. Either can be
// gzip-compressed, see WithCompression.
package persist

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomachina/machina/ml/machine"
	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Format selects the envelope encoding.
type Format string

const (
	// FormatGob is the native Go encoding. It round-trips every machine,
	// including composites, with sub-machine sharing preserved.
	FormatGob Format = "gob"

	// FormatBinary is the portable cross-language encoding (MessagePack
	// payload). It supports machines whose fitted state is plain data;
	// composite and wrapper machines are rejected.
	FormatBinary Format = "binary"
)

// Compression selects the envelope compression.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
)

// options collects the Save/Serializable configuration.
type options struct {
	format      Format
	compression Compression
	hookOpts    map[string]any
}

// Option configures Save and Serializable.
type Option func(*options)

// WithFormat selects the envelope format. Default is FormatGob.
func WithFormat(format Format) Option {
	return func(o *options) { o.format = format }
}

// WithCompression selects the envelope compression. Default is
// CompressionNone.
func WithCompression(compression Compression) Option {
	return func(o *options) { o.compression = compression }
}

// WithHookOption passes a key/value pair through to the save hooks of
// models with opaque fitted state.
func WithHookOption(key string, value any) Option {
	return func(o *options) {
		if o.hookOpts == nil {
			o.hookOpts = make(map[string]any)
		}
		o.hookOpts[key] = value
	}
}

func buildOptions(opts []Option) (options, error) {
	o := options{format: FormatGob, compression: CompressionNone}
	for _, opt := range opts {
		opt(&o)
	}
	switch o.format {
	case FormatGob, FormatBinary:
	default:
		return o, errors.Errorf("unknown format %q", o.format)
	}
	switch o.compression {
	case CompressionNone, CompressionGzip:
	default:
		return o, errors.Errorf("unknown compression %q", o.compression)
	}
	return o, nil
}

// Save persists the trained machine m to dst, which is either a file path
// (string) or an io.Writer.
//
// Saving an untrained machine fails, and fails early: no file is created
// and nothing is written to the stream. When the model implements a save
// hook that writes side files, the side-file names are derived from the
// destination path; for writer destinations a fresh stem under the system
// temporary directory is used instead, so side files do not travel with the
// stream.
func Save(dst any, m *machine.Machine, opts ...Option) error {
	o, err := buildOptions(opts)
	if err != nil {
		return err
	}
	if m == nil {
		return errors.Errorf("cannot save a nil machine")
	}
	if !m.IsTrained() {
		return errors.Wrapf(machine.ErrNotTrained, "cannot save %s", m)
	}

	switch dst := dst.(type) {
	case string:
		stem := stemOfPath(dst)
		snapshot, err := snapshotFor(m, stem, o)
		if err != nil {
			return err
		}
		f, err := os.Create(dst)
		if err != nil {
			return errors.Wrapf(err, "failed to create %q", dst)
		}
		if err = writeEnvelope(f, snapshot, o); err != nil {
			_ = f.Close()
			_ = os.Remove(dst)
			return errors.Wrapf(err, "failed to save %s to %q", m, dst)
		}
		if err = f.Close(); err != nil {
			return errors.Wrapf(err, "failed to close %q", dst)
		}
		klog.V(1).Infof("saved %s to %q (format=%s, compression=%s)", m, dst, o.format, o.compression)
		return nil

	case io.Writer:
		stem := tempStem()
		snapshot, err := snapshotFor(m, stem, o)
		if err != nil {
			return err
		}
		if err = writeEnvelope(dst, snapshot, o); err != nil {
			return errors.Wrapf(err, "failed to save %s to stream", m)
		}
		return nil

	default:
		return errors.Errorf("persist.Save: destination must be a file path or io.Writer, got %T", dst)
	}
}

// Load reads a machine envelope from src, which is either a file path
// (string) or an io.Reader, restores its fitted state (see Restore) and
// returns the machine ready for prediction on fresh data.
//
// Optional newData values are bound, in order, to the machine's data
// sources; without them the sources stay empty and a bound-data operation
// like PredictBound fails with machine.ErrUnboundSource until data is
// bound.
func Load(src any, newData ...any) (*machine.Machine, error) {
	var m *machine.Machine
	var stem string
	switch src := src.(type) {
	case string:
		f, err := os.Open(src)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %q", src)
		}
		defer func() { _ = f.Close() }()
		m, err = readEnvelope(f)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load machine from %q", src)
		}
		stem = stemOfPath(src)

	case io.Reader:
		var err error
		m, err = readEnvelope(src)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load machine from stream")
		}
		stem = tempStem()

	default:
		return nil, errors.Errorf("persist.Load: source must be a file path or io.Reader, got %T", src)
	}

	if err := restoreWithStem(m, stem); err != nil {
		return nil, err
	}
	if len(newData) > 0 {
		if err := rebind(m, newData); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Decode reads a machine envelope from r without running restore hooks:
// machines with opaque fitted state keep the persisted marker their save
// hook produced. Useful for inspecting envelopes whose side files are not
// available; normal loading goes through Load.
func Decode(r io.Reader) (*machine.Machine, error) {
	return readEnvelope(r)
}

// Serializable returns a snapshot of m fit for serialization: a new machine
// with the same model and fitted state, empty data sources, the training
// data stripped from its cache and report, and any learning network
// rewritten with sub-machine sharing preserved. The original machine is not
// modified.
//
// The destination is used only to derive the naming stem for side files
// written by save hooks, the same derivation Save uses, so a later
// Restore(snapshot, destination) finds them. An empty destination puts side
// files under the system temporary directory, where Restore with no source
// looks for them.
func Serializable(destination string, m *machine.Machine, opts ...Option) (*machine.Machine, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.Errorf("cannot snapshot a nil machine")
	}
	if !m.IsTrained() {
		return nil, errors.Wrapf(machine.ErrNotTrained, "cannot snapshot %s", m)
	}
	stem := tempStem()
	if destination != "" {
		stem = stemOfPath(destination)
	}
	return snapshotFor(m, stem, o)
}

// snapshotFor builds the serializable snapshot, converting graph-building
// panics (malformed networks are programming errors that panic) to errors
// at the API boundary.
func snapshotFor(m *machine.Machine, stem string, o options) (snapshot *machine.Machine, err error) {
	panicErr := exceptions.TryCatch[error](func() {
		snapshot, err = serializableWithStem(m, stem, o)
	})
	if panicErr != nil {
		return nil, panicErr
	}
	return
}

// Restore converts a deserialized machine back to a usable one: restore
// hooks of models with opaque fitted state run (reading their side files),
// learning-network machines are restored recursively, and wrapper
// fitresults have their sub-machines restored. Machines whose model has no
// restore hook are left as-is.
//
// The optional source is the path the envelope was loaded from, used to
// locate side files. Without it, side files are looked up under the system
// temporary directory, where Serializable with an empty destination writes
// them. Machines that came through Load are already restored.
func Restore(m *machine.Machine, source ...string) error {
	stem := filepath.Join(os.TempDir(), "machina")
	if len(source) > 0 {
		stem = stemOfPath(source[0])
	}
	return restoreWithStem(m, stem)
}

// rebind binds fresh data values to the machine's sources, in order.
func rebind(m *machine.Machine, newData []any) error {
	args := m.Args()
	if len(newData) > len(args) {
		return errors.Errorf("%s has %d data sources, cannot bind %d values", m, len(args), len(newData))
	}
	rebound := make([]machine.DataSource, len(args))
	copy(rebound, args)
	for ii, v := range newData {
		rebound[ii] = machine.NewSource(v)
	}
	m.SetArgs(rebound)
	return nil
}

// stemOfPath derives the side-file stem from an envelope path: the path
// with its extension removed.
func stemOfPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// tempStem returns a fresh side-file stem under the system temporary
// directory, for stream destinations that have no path.
func tempStem() string {
	return filepath.Join(os.TempDir(), "machina-"+uuid.NewString()[:8])
}
