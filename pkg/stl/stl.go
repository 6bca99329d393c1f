// Package stl reads and writes STL files. Both binary and ASCII input are
// accepted; output is always binary.
package stl

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chazu/archfuse/pkg/kernel"
)

const (
	headerSize   = 80
	triangleSize = 50
)

// Solid is one named body of an STL file.
type Solid struct {
	Name string
	Mesh *kernel.Mesh
}

// ReadFile reads the STL file at path into a single mesh named after the
// file.
func ReadFile(path string) (*kernel.Mesh, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	m, err := Read(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return m, nil
}

// Read parses an STL stream and merges all of its solids into one
// non-indexed mesh. Facet normals from the file are discarded.
func Read(r io.Reader) (*kernel.Mesh, error) {
	solids, err := ReadSolids(r)
	if err != nil {
		return nil, err
	}
	out := &kernel.Mesh{Vertices: []float32{}}
	for _, s := range solids {
		out.Vertices = append(out.Vertices, s.Mesh.Vertices...)
	}
	if len(solids) > 0 {
		out.Name = solids[0].Name
	}
	return out, nil
}

// ReadSolids parses an STL stream and returns each solid separately. An
// ASCII file yields one entry per "solid ... endsolid" block; a binary file
// yields a single solid named after its header.
//
// A stream is treated as binary when its size is exactly 84 + 50*n for the
// triangle count n stored at offset 80, even if the header starts with
// "solid".
func ReadSolids(r io.Reader) ([]Solid, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read STL: %w", err)
	}
	if isBinary(data) {
		s, err := parseBinary(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return []Solid{s}, nil
	}
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("solid")) {
		return nil, fmt.Errorf("not an STL file: %d bytes, no solid header", len(data))
	}
	return parseASCII(bytes.NewReader(data))
}

func isBinary(data []byte) bool {
	if len(data) < headerSize+4 {
		return false
	}
	n := binary.LittleEndian.Uint32(data[headerSize : headerSize+4])
	return uint64(len(data)) == uint64(headerSize+4)+uint64(n)*triangleSize
}

// parseASCII parses an ASCII STL stream.
func parseASCII(reader io.Reader) ([]Solid, error) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var solids []Solid
	var current *Solid
	var vertices []float32
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "solid":
			solids = append(solids, Solid{
				Name: strings.Join(fields[1:], " "),
				Mesh: &kernel.Mesh{Vertices: []float32{}},
			})
			current = &solids[len(solids)-1]

		case "vertex":
			if current == nil {
				return nil, fmt.Errorf("line %d: vertex outside of a solid", lineNo)
			}
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: vertex needs 3 coordinates", lineNo)
			}
			for _, f := range fields[1:4] {
				v, err := strconv.ParseFloat(f, 32)
				if err != nil {
					return nil, fmt.Errorf("line %d: bad coordinate %q: %w", lineNo, f, err)
				}
				vertices = append(vertices, float32(v))
			}

		case "endfacet":
			if current == nil {
				return nil, fmt.Errorf("line %d: endfacet outside of a solid", lineNo)
			}
			if len(vertices) != 9 {
				return nil, fmt.Errorf("line %d: facet has %d vertices, want 3", lineNo, len(vertices)/3)
			}
			current.Mesh.Vertices = append(current.Mesh.Vertices, vertices...)
			vertices = vertices[:0]

		case "endsolid":
			current = nil
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading ASCII STL: %w", err)
	}
	for i := range solids {
		solids[i].Mesh.Name = solids[i].Name
	}
	return solids, nil
}

// parseBinary parses a binary STL stream.
func parseBinary(reader io.Reader) (Solid, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(reader, header); err != nil {
		return Solid{}, fmt.Errorf("failed to read header: %w", err)
	}
	name := strings.TrimSpace(string(bytes.TrimRight(header, "\x00")))
	name = strings.TrimSpace(strings.TrimPrefix(name, "solid"))

	var triangleCount uint32
	if err := binary.Read(reader, binary.LittleEndian, &triangleCount); err != nil {
		return Solid{}, fmt.Errorf("failed to read triangle count: %w", err)
	}

	vertices := make([]float32, 0, int(triangleCount)*9)
	var facet struct {
		Normal    [3]float32
		Vertices  [9]float32
		Attribute uint16
	}
	for i := uint32(0); i < triangleCount; i++ {
		if err := binary.Read(reader, binary.LittleEndian, &facet); err != nil {
			return Solid{}, fmt.Errorf("failed to read triangle %d: %w", i, err)
		}
		vertices = append(vertices, facet.Vertices[:]...)
	}

	return Solid{Name: name, Mesh: &kernel.Mesh{Vertices: vertices, Name: name}}, nil
}

// WriteBinary writes m as a binary STL with one facet per triangle and
// per-facet normals computed from the geometry. It returns the number of
// bytes written.
func WriteBinary(w io.Writer, name string, m *kernel.Mesh) (int64, error) {
	numTri := m.TriangleCount()
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+4+numTri*triangleSize))

	header := make([]byte, headerSize)
	copy(header, name)
	buf.Write(header)
	_ = binary.Write(buf, binary.LittleEndian, uint32(numTri))

	for t := 0; t < numTri; t++ {
		n := m.FaceNormal(t)
		tri := m.Triangle(t)
		rec := [12]float32{float32(n.X), float32(n.Y), float32(n.Z)}
		for j, idx := range tri {
			copy(rec[3+j*3:], m.Vertices[idx*3:idx*3+3])
		}
		_ = binary.Write(buf, binary.LittleEndian, rec)
		_ = binary.Write(buf, binary.LittleEndian, uint16(0))
	}

	return buf.WriteTo(w)
}

// WriteASCII writes the solids as one multi-solid ASCII STL.
func WriteASCII(w io.Writer, solids []Solid) error {
	bw := bufio.NewWriter(w)
	for _, s := range solids {
		fmt.Fprintf(bw, "solid %s\n", s.Name)
		for t := 0; t < s.Mesh.TriangleCount(); t++ {
			n := s.Mesh.FaceNormal(t)
			fmt.Fprintf(bw, "  facet normal %g %g %g\n    outer loop\n", n.X, n.Y, n.Z)
			for _, idx := range s.Mesh.Triangle(t) {
				p := s.Mesh.Position(idx)
				fmt.Fprintf(bw, "      vertex %g %g %g\n", p.X, p.Y, p.Z)
			}
			fmt.Fprintf(bw, "    endloop\n  endfacet\n")
		}
		fmt.Fprintf(bw, "endsolid %s\n", s.Name)
	}
	return bw.Flush()
}
