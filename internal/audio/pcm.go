package audio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// ReadPCM decodes little-endian float32 mono samples.
func ReadPCM(r io.Reader) ([]float64, error) {
	br := bufio.NewReader(r)
	var samples []float64
	var buf [4]byte
	for {
		_, err := io.ReadFull(br, buf[:])
		if err == io.EOF {
			return samples, nil
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("truncated pcm stream after %d samples", len(samples))
		}
		if err != nil {
			return nil, err
		}
		samples = append(samples, float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[:]))))
	}
}

// WritePCM encodes samples as little-endian float32.
func WritePCM(w io.Writer, samples []float64) error {
	bw := bufio.NewWriter(w)
	var buf [4]byte
	for _, s := range samples {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(float32(s)))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadPCMFile loads a raw f32le file written by ffmpeg.
func ReadPCMFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadPCM(f)
}

// WritePCMFile stores samples as a raw f32le file.
func WritePCMFile(path string, samples []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WritePCM(f, samples); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
