package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path"

	"github.com/cenkalti/backoff/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/spatial/r3"
)

// SimulationResult maps entity id -> dimension name -> one value per observation point.
type SimulationResult map[string]map[string][]float64

// mesh blob encodings
const (
	EncodingCurrent = "zstd"
	EncodingLegacy  = "gzip"
)

// meshMagic starts every current mesh blob (after decompression)
var meshMagic = [4]byte{'S', 'R', 'M', '1'}

// blob names below <namespace>/<runID>/
const (
	meshBlobName    = "triangles.bin"
	resultsBlobName = "results.json"
)

/*
ResultStore persists meshes and scalar results of simulation runs in a blob store.
Readers accept the current and the legacy encoding.
*/
type ResultStore struct {
	Blobs       BlobStore
	Namespace   string
	Encoding    string // EncodingCurrent (default) or EncodingLegacy
	MaxAttempts uint
}

func (s *ResultStore) key(runID, name string) string {
	return path.Join(s.Namespace, runID, name)
}

/*
put writes a blob with exponential backoff.
*/
func (s *ResultStore) put(ctx context.Context, key string, data []byte) error {
	attempts := s.MaxAttempts
	if attempts == 0 {
		attempts = 5
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.Blobs.Put(ctx, key, data)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(attempts))
	if err != nil {
		return fmt.Errorf("error [%w] writing blob %s", err, key)
	}
	return nil
}

/*
PutMesh stores the triangles of a run.
*/
func (s *ResultStore) PutMesh(ctx context.Context, runID string, triangles []TaggedTriangle) error {
	var data []byte
	var err error
	if s.Encoding == EncodingLegacy {
		data, err = encodeMeshLegacy(triangles)
	} else {
		data, err = encodeMesh(triangles)
	}
	if err != nil {
		return err
	}
	return s.put(ctx, s.key(runID, meshBlobName), data)
}

/*
GetMesh reads the triangles of a run.
*/
func (s *ResultStore) GetMesh(ctx context.Context, runID string) ([]TaggedTriangle, error) {
	data, err := s.Blobs.Get(ctx, s.key(runID, meshBlobName))
	if err != nil {
		return nil, err
	}
	triangles, err := decodeMesh(data)
	if err == nil {
		return triangles, nil
	}
	legacy, legacyErr := decodeMeshLegacy(data)
	if legacyErr != nil {
		return nil, fmt.Errorf("undecodable mesh of run %s: %w", runID, errors.Join(err, legacyErr))
	}
	return legacy, nil
}

/*
PutResults stores the scalar results of a run.
*/
func (s *ResultStore) PutResults(ctx context.Context, runID string, result SimulationResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("error [%w] at json.Marshal()", err)
	}
	var data []byte
	if s.Encoding == EncodingLegacy {
		data, err = gzipBytes(raw)
	} else {
		data, err = zstdBytes(raw)
	}
	if err != nil {
		return err
	}
	return s.put(ctx, s.key(runID, resultsBlobName), data)
}

/*
GetResults reads the scalar results of a run.
*/
func (s *ResultStore) GetResults(ctx context.Context, runID string) (SimulationResult, error) {
	data, err := s.Blobs.Get(ctx, s.key(runID, resultsBlobName))
	if err != nil {
		return nil, err
	}
	raw, err := unzstdBytes(data)
	if err != nil {
		var legacyErr error
		raw, legacyErr = gunzipBytes(data)
		if legacyErr != nil {
			return nil, fmt.Errorf("undecodable results of run %s: %w", runID, errors.Join(err, legacyErr))
		}
	}
	var result SimulationResult
	err = json.Unmarshal(raw, &result)
	if err != nil {
		return nil, fmt.Errorf("error [%w] at json.Unmarshal(), run %s", err, runID)
	}
	return result, nil
}

// --------------------------------------------------------------------------------
// current encoding: zstd( "SRM1" | uint32 count | count × (uint8 type | 9 × float64) )
// --------------------------------------------------------------------------------

func surroundingTypeCode(t SurroundingType) (uint8, error) {
	for i, known := range allSurroundingTypes {
		if known == t {
			return uint8(i), nil
		}
	}
	return 0, fmt.Errorf("unknown surrounding type [%s]", t)
}

func encodeMesh(triangles []TaggedTriangle) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(8 + len(triangles)*73)
	buf.Write(meshMagic[:])
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(triangles)))

	record := make([]byte, 73)
	for _, t := range triangles {
		code, err := surroundingTypeCode(t.Type)
		if err != nil {
			return nil, err
		}
		record[0] = code
		offset := 1
		for _, v := range t.Triangle {
			for _, c := range [3]float64{v.X, v.Y, v.Z} {
				binary.LittleEndian.PutUint64(record[offset:], math.Float64bits(c))
				offset += 8
			}
		}
		buf.Write(record)
	}
	return zstdBytes(buf.Bytes())
}

func decodeMesh(data []byte) ([]TaggedTriangle, error) {
	raw, err := unzstdBytes(data)
	if err != nil {
		return nil, err
	}
	if len(raw) < 8 || !bytes.Equal(raw[:4], meshMagic[:]) {
		return nil, fmt.Errorf("mesh blob without header")
	}
	count := int(binary.LittleEndian.Uint32(raw[4:8]))
	body := raw[8:]
	if len(body) != count*73 {
		return nil, fmt.Errorf("mesh blob truncated: %d bytes for %d triangles", len(body), count)
	}
	triangles := make([]TaggedTriangle, count)
	for i := range triangles {
		record := body[i*73 : (i+1)*73]
		if int(record[0]) >= len(allSurroundingTypes) {
			return nil, fmt.Errorf("invalid surrounding type code %d", record[0])
		}
		triangles[i].Type = allSurroundingTypes[record[0]]
		offset := 1
		for j := range triangles[i].Triangle {
			var c [3]float64
			for k := range c {
				c[k] = math.Float64frombits(binary.LittleEndian.Uint64(record[offset:]))
				offset += 8
			}
			triangles[i].Triangle[j] = r3.Vec{X: c[0], Y: c[1], Z: c[2]}
		}
	}
	return triangles, nil
}

// --------------------------------------------------------------------------------
// legacy encoding: gzip( one JSON object per line )
// --------------------------------------------------------------------------------

type legacyTriangle struct {
	Type     SurroundingType `json:"type"`
	Vertices [3][3]float64   `json:"triangle"`
}

func encodeMeshLegacy(triangles []TaggedTriangle) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	encoder := json.NewEncoder(writer)
	for _, t := range triangles {
		record := legacyTriangle{Type: t.Type}
		for i, v := range t.Triangle {
			record.Vertices[i] = [3]float64{v.X, v.Y, v.Z}
		}
		err := encoder.Encode(record)
		if err != nil {
			return nil, fmt.Errorf("error [%w] at encoder.Encode()", err)
		}
	}
	err := writer.Close()
	if err != nil {
		return nil, fmt.Errorf("error [%w] at writer.Close()", err)
	}
	return buf.Bytes(), nil
}

func decodeMeshLegacy(data []byte) ([]TaggedTriangle, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("error [%w] at gzip.NewReader()", err)
	}
	defer reader.Close()

	var triangles []TaggedTriangle
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var record legacyTriangle
		err = json.Unmarshal(line, &record)
		if err != nil {
			return nil, fmt.Errorf("error [%w] at json.Unmarshal()", err)
		}
		if !record.Type.Valid() {
			return nil, fmt.Errorf("invalid surrounding type [%s]", record.Type)
		}
		t := TaggedTriangle{Type: record.Type}
		for i, v := range record.Vertices {
			t.Triangle[i] = r3.Vec{X: v[0], Y: v[1], Z: v[2]}
		}
		triangles = append(triangles, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error [%w] at scanner.Scan()", err)
	}
	return triangles, nil
}

// --------------------------------------------------------------------------------
// compression helpers
// --------------------------------------------------------------------------------

func zstdBytes(raw []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("error [%w] at zstd.NewWriter()", err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(raw, nil), nil
}

func unzstdBytes(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("error [%w] at zstd.NewReader()", err)
	}
	defer decoder.Close()
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("error [%w] at decoder.DecodeAll()", err)
	}
	return raw, nil
}

func gzipBytes(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	_, err := writer.Write(raw)
	if err != nil {
		return nil, fmt.Errorf("error [%w] at writer.Write()", err)
	}
	err = writer.Close()
	if err != nil {
		return nil, fmt.Errorf("error [%w] at writer.Close()", err)
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("error [%w] at gzip.NewReader()", err)
	}
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("error [%w] at io.ReadAll()", err)
	}
	return raw, nil
}
