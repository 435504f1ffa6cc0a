package parse_test

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getcharzp/go-svs/api"
	"github.com/getcharzp/go-svs/parse"
)

// writePhonemes 在 dir 下写音素 id 映射文件 phonemes.json
func writePhonemes(t *testing.T, dir string) {
	t.Helper()
	raw, err := json.Marshal(map[string]int{"a": 1, "k": 2})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "phonemes.json"), raw, 0o644))
}

// writeEmbedding 写一个 .emb 文件
func writeEmbedding(t *testing.T, path string, values []float32) {
	t.Helper()
	raw := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

func TestParseDurationConfiguration(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePhonemes(t, dir)
	obj := map[string]any{
		"phonemes":   "phonemes.json",
		"frameWidth": 0.01,
		"encoder":    "encoder.onnx",
		"predictor":  "predictor.onnx",
	}
	cfg, err := parse.ParseDurationConfiguration(dir, obj)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"a": 1, "k": 2}, cfg.Phonemes)
	require.InDelta(t, 0.01, cfg.FrameWidth, 1e-12)
	require.Equal(t, filepath.Join(dir, "encoder.onnx"), cfg.Encoder)
	require.False(t, cfg.UseLanguageId)
}

func TestParseConfigurationFrameWidthFallback(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePhonemes(t, dir)
	obj := map[string]any{
		"phonemes":   "phonemes.json",
		"sampleRate": float64(44100),
		"hopSize":    float64(512),
		"encoder":    "encoder.onnx",
		"predictor":  "predictor.onnx",
	}
	cfg, err := parse.ParseDurationConfiguration(dir, obj)
	require.NoError(t, err)
	require.InDelta(t, 512.0/44100.0, cfg.FrameWidth, 1e-12)
}

func TestParseConfigurationCollectsAllErrors(t *testing.T) {
	t.Parallel()

	// phonemes 缺失、useLanguageId 置真但 languages 缺失、
	// useSpeakerEmbedding 置真但 hiddenSize 与 speakers 缺失、帧宽缺失、
	// 模型路径缺失 —— 所有问题一次性报出
	obj := map[string]any{
		"useLanguageId":       true,
		"useSpeakerEmbedding": true,
	}
	_, err := parse.ParseDurationConfiguration(t.TempDir(), obj)
	require.Error(t, err)
	require.ErrorIs(t, err, api.ErrInvalidFormat)
	msg := err.Error()
	require.Contains(t, msg, `"phonemes"`)
	require.Contains(t, msg, `"languages"`)
	require.Contains(t, msg, `"hiddenSize"`)
	require.Contains(t, msg, `"speakers"`)
	require.Contains(t, msg, `"frameWidth"`)
	require.Contains(t, msg, `"encoder"`)
	require.Contains(t, msg, `"predictor"`)
}

func TestParseConfigurationSpeakers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePhonemes(t, dir)
	writeEmbedding(t, filepath.Join(dir, "opencpop.emb"), []float32{1, 2, 3, 4})

	obj := map[string]any{
		"phonemes":            "phonemes.json",
		"frameWidth":          0.01,
		"encoder":             "encoder.onnx",
		"predictor":           "predictor.onnx",
		"useSpeakerEmbedding": true,
		"hiddenSize":          float64(4),
		"speakers":            map[string]any{"opencpop": "opencpop.emb"},
	}
	cfg, err := parse.ParseDurationConfiguration(dir, obj)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3, 4}, cfg.Speakers["opencpop"])
}

func TestLoadSpeakerEmbeddingLengthMismatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.emb")
	writeEmbedding(t, path, []float32{1, 2, 3})

	_, err := parse.LoadSpeakerEmbedding(4, path)
	require.Error(t, err)
	require.ErrorIs(t, err, api.ErrInvalidFormat)

	got, err := parse.LoadSpeakerEmbedding(3, path)
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestParseConfigurationSpeakerEmbFailureNamesSpeaker(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePhonemes(t, dir)
	writeEmbedding(t, filepath.Join(dir, "short.emb"), []float32{1})

	obj := map[string]any{
		"phonemes":            "phonemes.json",
		"frameWidth":          0.01,
		"encoder":             "encoder.onnx",
		"predictor":           "predictor.onnx",
		"useSpeakerEmbedding": true,
		"hiddenSize":          float64(4),
		"speakers":            map[string]any{"miriam": "short.emb"},
	}
	_, err := parse.ParseDurationConfiguration(dir, obj)
	require.Error(t, err)
	require.Contains(t, err.Error(), `"miriam"`)
}

func TestParseAcousticConfiguration(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePhonemes(t, dir)
	obj := map[string]any{
		"phonemes":    "phonemes.json",
		"model":       "acoustic.onnx",
		"sampleRate":  float64(44100),
		"hopSize":     float64(512),
		"melChannels": float64(128),
		"melBase":     "E",
		"melScale":    "Slaney",
		"maxDepth":    float64(1000),
		"parameters":  []any{"energy", "breathiness", "gender"},
	}
	cfg, err := parse.ParseAcousticConfiguration(dir, obj)
	require.NoError(t, err)
	require.Equal(t, api.MelBaseE, cfg.MelBase)
	require.Equal(t, api.MelScaleSlaney, cfg.MelScale)
	require.Contains(t, cfg.Parameters, api.TagEnergy)
	require.Contains(t, cfg.Parameters, api.TagGender)
	require.NotContains(t, cfg.Parameters, api.TagVoicing)
}

func TestParseAcousticConfigurationBadEnum(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePhonemes(t, dir)
	obj := map[string]any{
		"phonemes":   "phonemes.json",
		"model":      "acoustic.onnx",
		"sampleRate": float64(44100),
		"hopSize":    float64(512),
		"melBase":    "2",
		"parameters": []any{"pitch"},
	}
	_, err := parse.ParseAcousticConfiguration(dir, obj)
	require.Error(t, err)
	require.Contains(t, err.Error(), `"melBase"`)
	// pitch 不属于可声明的参数
	require.Contains(t, err.Error(), `"pitch"`)
}

func TestParseVarianceSchema(t *testing.T) {
	t.Parallel()

	schema, err := parse.ParseVarianceSchema(map[string]any{
		"predictions": []any{"energy", "breathiness"},
	})
	require.NoError(t, err)
	require.Equal(t, []api.ParamTag{api.TagEnergy, api.TagBreathiness}, schema.Predictions)

	// gender 不是 variance 类参数
	_, err = parse.ParseVarianceSchema(map[string]any{
		"predictions": []any{"gender"},
	})
	require.Error(t, err)
}

func TestParseImportOptions(t *testing.T) {
	t.Parallel()

	options, err := parse.ParseImportOptions(map[string]any{
		"speakerMapping": map[string]any{"ext": "int"},
	})
	require.NoError(t, err)
	require.Equal(t, "int", options.MapSpeaker("ext"))
	require.Equal(t, "other", options.MapSpeaker("other"))
}

func TestParseInputDocument(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"singer": "miriam",
		"duration": 1.5,
		"steps": 50,
		"depth": 0.5,
		"words": [
			{
				"notes": [{"key": 69, "cents": 0, "duration": 1.5, "is_rest": false}],
				"phones": [{"token": "a", "start": 0}]
			}
		],
		"parameters": [
			{"tag": "pitch", "values": [69, 69], "interval": 0.75,
			 "retake": {"start": 0, "end": 0.75}}
		],
		"speakers": [{"name": "miriam", "proportion": 1, "begin": 0, "end": 1.5}]
	}`)
	doc, err := parse.ParseInputDocument(raw)
	require.NoError(t, err)
	require.Equal(t, "miriam", doc.Singer)
	require.InDelta(t, 1.5, doc.Input.Duration, 1e-12)
	require.Len(t, doc.Input.Words, 1)
	require.Len(t, doc.Input.Parameters, 1)
	require.Equal(t, api.TagPitch, doc.Input.Parameters[0].Tag)
	require.NotNil(t, doc.Input.Parameters[0].Retake)
	require.Equal(t, int64(50), doc.Input.Steps)
}

func TestParseInputDocumentErrors(t *testing.T) {
	t.Parallel()

	_, err := parse.ParseInputDocument([]byte(`{`))
	require.ErrorIs(t, err, api.ErrInvalidFormat)

	_, err = parse.ParseInputDocument([]byte(`{"singer": ""}`))
	require.ErrorIs(t, err, api.ErrInvalidFormat)

	_, err = parse.ParseInputDocument([]byte(`{
		"singer": "x",
		"parameters": [{"tag": "wobble", "values": [1], "interval": 0.01}]
	}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), `"wobble"`)
}
