package pipeline

import (
	"bytes"
	"encoding/binary"
)

// float32WavBytes 把 float32 单声道波形封装为 IEEE float 格式的 WAV 字节流
//
// gotool 的 WAV 工具只输出整数 PCM，声码器的波形按约定以 32 位浮点
// 原样写出，故此处自行组装 RIFF 头
func float32WavBytes(samples []float32, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 32
		formatIEEE    = 3
	)
	dataSize := len(samples) * 4
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(formatIEEE))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	for _, s := range samples {
		binary.Write(&buf, binary.LittleEndian, s)
	}
	return buf.Bytes()
}
