package serializer

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
)

const (
	typeHeaderName = "Atd-Response-Type"
	urlHeaderName  = "Atd-Response-Url"
)

// Snapshot is a fully read response, as kept in a cache store.
type Snapshot struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Response type, i.e. basic, cors, opaque.
	Type string
	// Final URL of the response.
	URL string
}

// SnapshotToBytes returns the HTTP/1.1 representation of the snapshot.
// Type and URL travel as extra headers that are removed again when reading.
func SnapshotToBytes(s Snapshot) ([]byte, error) {
	header := s.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if s.Type != "" {
		header.Set(typeHeaderName, s.Type)
	}
	if s.URL != "" {
		header.Set(urlHeaderName, s.URL)
	}
	res := &http.Response{
		StatusCode:    s.StatusCode,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
	}
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BytesToSnapshot reads a snapshot written by SnapshotToBytes.
func BytesToSnapshot(b []byte) (Snapshot, error) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return Snapshot{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Snapshot{}, err
	}
	s := Snapshot{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       body,
		Type:       res.Header.Get(typeHeaderName),
		URL:        res.Header.Get(urlHeaderName),
	}
	// delete extra headers
	s.Header.Del(typeHeaderName)
	s.Header.Del(urlHeaderName)
	return s, nil
}
