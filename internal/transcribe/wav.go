package transcribe

import (
	"bytes"
	"encoding/binary"
)

// EncodeWAV converts mono float32 samples to a 16-bit PCM RIFF WAV file.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	dataSize := len(samples) * 2
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataSize))

	buf.WriteString("RIFF")
	writeUint32(buf, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	writeUint32(buf, 16)
	writeUint16(buf, 1) // PCM
	writeUint16(buf, 1) // mono
	writeUint32(buf, uint32(sampleRate))
	writeUint32(buf, uint32(sampleRate*2)) // byte rate
	writeUint16(buf, 2)                    // block align
	writeUint16(buf, 16)

	buf.WriteString("data")
	writeUint32(buf, uint32(dataSize))
	for _, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		writeUint16(buf, uint16(int16(s*32767)))
	}

	return buf.Bytes()
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
