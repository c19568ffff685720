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

package stumps

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SavedModel is the serializable stand-in left in the main envelope when a
// trained Booster is persisted. It points at the side file holding the
// opaque model state.
type SavedModel struct {
	// File is the base name of the side file, relative to the envelope's
	// location.
	File string `msgpack:"file"`

	// SHA256 holds the hex checksum of the side file payload, verified on
	// restore.
	SHA256 string `msgpack:"sha256"`
}

// sideFileSuffix follows "<stem>.<TypeName>.model".
const sideFileSuffix = ".stumps.booster.model"

// Side file layout, all little-endian:
//
//	magic "STMP" | uint32 version | float64 base |
//	uint32 numFeatures | per feature: uint32 len + bytes |
//	uint32 numStumps | per stump: int32 feature, float64 threshold/left/right |
//	32-byte SHA-256 of everything before it
const (
	sideFileMagic   = "STMP"
	sideFileVersion = uint32(1)
)

// SaveFitresult implements machine.FitresultSaver. It writes the opaque
// state to stem+".stumps.booster.model" and returns a *SavedModel marker
// for the envelope.
func (b *Booster) SaveFitresult(fitresult any, stem string, opts map[string]any) (any, error) {
	handle, ok := fitresult.(*Handle)
	if !ok || handle.model == nil {
		return nil, errors.Errorf("stumps.Booster.SaveFitresult got %T, expected a trained *stumps.Handle", fitresult)
	}
	_ = opts
	path := stem + sideFileSuffix
	if _, err := os.Stat(path); err == nil {
		klog.Warningf("stumps: overwriting existing model side file %q", path)
	}
	payload := encodeSideFile(handle.model)
	sum := sha256.Sum256(payload)
	payload = append(payload, sum[:]...)
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return nil, errors.Wrapf(err, "stumps: failed to write model side file %q", path)
	}
	return &SavedModel{
		File:   filepath.Base(path),
		SHA256: hex.EncodeToString(sum[:]),
	}, nil
}

// RestoreFitresult implements machine.FitresultSaver. It reads back the
// side file referenced by the SavedModel marker and rebuilds the Handle.
func (b *Booster) RestoreFitresult(persisted any, stem string) (any, error) {
	saved, ok := persisted.(*SavedModel)
	if !ok {
		return nil, errors.Errorf("stumps.Booster.RestoreFitresult got %T, expected *stumps.SavedModel", persisted)
	}
	path := stem + sideFileSuffix
	if saved.File != "" && filepath.Base(path) != saved.File {
		path = filepath.Join(filepath.Dir(stem), saved.File)
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "stumps: failed to read model side file %q", path)
	}
	if len(payload) < sha256.Size {
		return nil, errors.Errorf("stumps: model side file %q truncated", path)
	}
	body, sum := payload[:len(payload)-sha256.Size], payload[len(payload)-sha256.Size:]
	want := sha256.Sum256(body)
	if hex.EncodeToString(want[:]) != hex.EncodeToString(sum) {
		return nil, errors.Errorf("stumps: model side file %q checksum mismatch", path)
	}
	if saved.SHA256 != "" && saved.SHA256 != hex.EncodeToString(sum) {
		return nil, errors.Errorf("stumps: model side file %q does not match the persisted checksum", path)
	}
	model, err := decodeSideFile(body)
	if err != nil {
		return nil, errors.Wrapf(err, "stumps: failed to decode model side file %q", path)
	}
	return &Handle{model: model}, nil
}

func encodeSideFile(model *boosterModel) []byte {
	buf := []byte(sideFileMagic)
	buf = binary.LittleEndian.AppendUint32(buf, sideFileVersion)
	buf = binary.LittleEndian.AppendUint64(buf, uint64FromFloat(model.base))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(model.features)))
	for _, name := range model.features {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(name)))
		buf = append(buf, name...)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(model.stumps)))
	for _, s := range model.stumps {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(s.feature))
		buf = binary.LittleEndian.AppendUint64(buf, uint64FromFloat(s.threshold))
		buf = binary.LittleEndian.AppendUint64(buf, uint64FromFloat(s.left))
		buf = binary.LittleEndian.AppendUint64(buf, uint64FromFloat(s.right))
	}
	return buf
}

func decodeSideFile(body []byte) (*boosterModel, error) {
	r := &byteReader{buf: body}
	magic := r.bytes(4)
	if r.err != nil || string(magic) != sideFileMagic {
		return nil, errors.Errorf("bad magic, not a stumps model file")
	}
	version := r.uint32()
	if r.err == nil && version != sideFileVersion {
		return nil, errors.Errorf("unsupported version %d", version)
	}
	model := &boosterModel{base: floatFromUint64(r.uint64())}
	numFeatures := r.uint32()
	if r.err == nil && numFeatures > uint32(len(body)) {
		return nil, errors.Errorf("corrupt feature count %d", numFeatures)
	}
	for ii := uint32(0); ii < numFeatures && r.err == nil; ii++ {
		nameLen := r.uint32()
		model.features = append(model.features, string(r.bytes(int(nameLen))))
	}
	numStumps := r.uint32()
	if r.err == nil && numStumps > uint32(len(body)) {
		return nil, errors.Errorf("corrupt stump count %d", numStumps)
	}
	for ii := uint32(0); ii < numStumps && r.err == nil; ii++ {
		model.stumps = append(model.stumps, stump{
			feature:   int32(r.uint32()),
			threshold: floatFromUint64(r.uint64()),
			left:      floatFromUint64(r.uint64()),
			right:     floatFromUint64(r.uint64()),
		})
	}
	if r.err != nil {
		return nil, r.err
	}
	return model, nil
}

// byteReader is a cursor over the side file body that latches the first
// out-of-bounds read as an error.
type byteReader struct {
	buf []byte
	pos int
	err error
}

func (r *byteReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.err = errors.Errorf("unexpected end of file at offset %d", r.pos)
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *byteReader) uint32() uint32 {
	b := r.bytes(4)
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *byteReader) uint64() uint64 {
	b := r.bytes(8)
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func uint64FromFloat(f float64) uint64 { return math.Float64bits(f) }
func floatFromUint64(u uint64) float64 { return math.Float64frombits(u) }
