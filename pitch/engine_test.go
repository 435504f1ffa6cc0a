package pitch_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getcharzp/go-svs/api"
	"github.com/getcharzp/go-svs/pitch"
	"github.com/getcharzp/go-svs/session"
	"github.com/getcharzp/go-svs/tensor"
)

type fakeSession struct {
	opened string
	runFn  func(inputs map[string]*tensor.Tensor, outputs []string) (map[string]*tensor.Tensor, error)
}

func (s *fakeSession) Open(path string) error { s.opened = path; return nil }
func (s *fakeSession) IsOpen() bool           { return s.opened != "" }
func (s *fakeSession) Stop() bool             { return s.opened != "" }
func (s *fakeSession) Close() error           { s.opened = ""; return nil }
func (s *fakeSession) Run(inputs map[string]*tensor.Tensor, outputs []string) (map[string]*tensor.Tensor, error) {
	return s.runFn(inputs, outputs)
}

type fakeDriver struct {
	sessions []*fakeSession
	next     int
}

func (d *fakeDriver) NewSession() session.Session {
	s := d.sessions[d.next]
	d.next++
	return s
}

func mustFloat(t *testing.T, shape []int64, data []float32) *tensor.Tensor {
	t.Helper()
	out, err := tensor.FromSlice(shape, data)
	require.NoError(t, err)
	return out
}

func encoderSession(t *testing.T) *fakeSession {
	return &fakeSession{
		runFn: func(inputs map[string]*tensor.Tensor, outputs []string) (map[string]*tensor.Tensor, error) {
			require.Contains(t, inputs, "tokens")
			result := map[string]*tensor.Tensor{}
			for _, name := range outputs {
				result[name] = mustFloat(t, []int64{1, 2, 8}, make([]float32, 16))
			}
			return result, nil
		},
	}
}

func testConfig() *api.PitchConfiguration {
	return &api.PitchConfiguration{
		CommonConfiguration: api.CommonConfiguration{
			Phonemes:   map[string]int{"k": 1, "a": 2},
			FrameWidth: 0.01,
		},
		Encoder:           "encoder.onnx",
		Predictor:         "predictor.onnx",
		LinguisticMode:    api.LinguisticPhoneme,
		UseRestFlags:      true,
		UseExpressiveness: true,
	}
}

// testWords 一个词：休止音符 0.1s + 正常音符 0.9s
func testWords() []api.Word {
	return []api.Word{{
		Notes: []api.Note{
			{IsRest: true, Duration: 0.1},
			{Key: 69, Cents: 50, Duration: 0.9},
		},
		Phones: []api.Phone{
			{Token: "k", Start: 0},
			{Token: "a", Start: 0.1},
		},
	}}
}

func TestPitchStartAssemblesInputs(t *testing.T) {
	t.Parallel()

	var captured map[string]*tensor.Tensor
	predictor := &fakeSession{
		runFn: func(inputs map[string]*tensor.Tensor, outputs []string) (map[string]*tensor.Tensor, error) {
			captured = inputs
			require.Equal(t, []string{"pitch_pred"}, outputs)
			return map[string]*tensor.Tensor{
				"pitch_pred": mustFloat(t, []int64{1, 100}, make([]float32, 100)),
			}, nil
		},
	}
	driver := &fakeDriver{sessions: []*fakeSession{encoderSession(t), predictor}}

	engine := pitch.New(testConfig(), nil, driver)
	require.NoError(t, engine.Initialize(api.PitchInitArgs{}))

	result, err := engine.Start(&api.PitchStartInput{
		Duration: 1.0,
		Words:    testWords(),
		Steps:    100,
	})
	require.NoError(t, err)
	require.Equal(t, api.StateIdle, engine.State())

	// note_midi 的休止位置已按最近值填充，带音分偏移
	midi, err := tensor.View[float32](captured["note_midi"])
	require.NoError(t, err)
	require.Equal(t, []float32{69.5, 69.5}, midi)

	// note_rest 仅在 useRestFlags 时出现
	rest, err := tensor.View[bool](captured["note_rest"])
	require.NoError(t, err)
	require.Equal(t, []bool{true, false}, rest)

	// note_dur 帧吸附
	noteDur, err := tensor.View[int64](captured["note_dur"])
	require.NoError(t, err)
	require.Equal(t, []int64{10, 90}, noteDur)

	require.Contains(t, captured, "ph_dur")
	require.Contains(t, captured, "encoder_out")

	// 未提供音高：全零 pitch + 全真 retake
	pitchIn, err := tensor.View[float32](captured["pitch"])
	require.NoError(t, err)
	for _, v := range pitchIn {
		require.Zero(t, v)
	}
	retake, err := tensor.View[bool](captured["retake"])
	require.NoError(t, err)
	require.Len(t, retake, 100)
	for _, v := range retake {
		require.True(t, v)
	}

	// useExpressiveness 且未提供 expr：全一
	expr, err := tensor.View[float32](captured["expr"])
	require.NoError(t, err)
	for _, v := range expr {
		require.Equal(t, float32(1), v)
	}

	// 旧式模型：steps=100 → speedup=10
	speedup, err := tensor.View[int64](captured["speedup"])
	require.NoError(t, err)
	require.Equal(t, []int64{10}, speedup)
	require.NotContains(t, captured, "steps")

	require.InDelta(t, 0.01, result.Interval, 1e-12)
	require.Len(t, result.Pitch, 100)
}

func TestPitchStartWithUserCurve(t *testing.T) {
	t.Parallel()

	var captured map[string]*tensor.Tensor
	predictor := &fakeSession{
		runFn: func(inputs map[string]*tensor.Tensor, outputs []string) (map[string]*tensor.Tensor, error) {
			captured = inputs
			return map[string]*tensor.Tensor{
				"pitch_pred": mustFloat(t, []int64{1, 100}, make([]float32, 100)),
			}, nil
		},
	}
	driver := &fakeDriver{sessions: []*fakeSession{encoderSession(t), predictor}}

	cfg := testConfig()
	cfg.UseContinuousAcceleration = true
	engine := pitch.New(cfg, nil, driver)
	require.NoError(t, engine.Initialize(api.PitchInitArgs{}))

	userPitch := make([]float64, 100)
	for i := range userPitch {
		userPitch[i] = 69
	}
	_, err := engine.Start(&api.PitchStartInput{
		Duration: 1.0,
		Words:    testWords(),
		Steps:    20,
		Parameters: []api.Parameter{{
			Tag:      api.TagPitch,
			Values:   userPitch,
			Interval: 0.01,
			Retake:   &api.Retake{Start: 0.2, End: 0.5},
		}},
	})
	require.NoError(t, err)

	pitchIn, err := tensor.View[float32](captured["pitch"])
	require.NoError(t, err)
	require.Equal(t, float32(69), pitchIn[0])

	// retake 窗口 [20, 50)
	retake, err := tensor.View[bool](captured["retake"])
	require.NoError(t, err)
	for i, v := range retake {
		require.Equal(t, i >= 20 && i < 50, v, "frame %d", i)
	}

	// 新式模型直接传 steps
	steps, err := tensor.View[int64](captured["steps"])
	require.NoError(t, err)
	require.Equal(t, []int64{20}, steps)
	require.NotContains(t, captured, "speedup")
}

func TestPitchInputNameMismatch(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{sessions: []*fakeSession{encoderSession(t), {}}}
	engine := pitch.New(testConfig(), nil, driver)
	require.NoError(t, engine.Initialize(api.PitchInitArgs{}))

	_, err := engine.Start(&api.DurationStartInput{})
	require.ErrorIs(t, err, api.ErrInvalidArgument)
	require.Equal(t, api.StateFailed, engine.State())
}
