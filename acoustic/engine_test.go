package acoustic_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getcharzp/go-svs/acoustic"
	"github.com/getcharzp/go-svs/api"
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
	session *fakeSession
}

func (d *fakeDriver) NewSession() session.Session { return d.session }

func mustFloat(t *testing.T, shape []int64, data []float32) *tensor.Tensor {
	t.Helper()
	out, err := tensor.FromSlice(shape, data)
	require.NoError(t, err)
	return out
}

// testConfig 帧宽 0.01 (hopSize/sampleRate = 441/44100)
func testConfig() *api.AcousticConfiguration {
	return &api.AcousticConfiguration{
		CommonConfiguration: api.CommonConfiguration{
			Phonemes: map[string]int{"a": 1},
		},
		Model:       "acoustic.onnx",
		Parameters:  map[api.ParamTag]struct{}{},
		MaxDepth:    1000,
		SampleRate:  44100,
		HopSize:     441,
		MelChannels: 128,
	}
}

// testWords 单音素单音符，时长 0.02s → 2 帧
func testWords() []api.Word {
	return []api.Word{{
		Notes:  []api.Note{{Key: 69, Duration: 0.02}},
		Phones: []api.Phone{{Token: "a", Start: 0}},
	}}
}

func melSession(t *testing.T, captured *map[string]*tensor.Tensor) *fakeSession {
	return &fakeSession{
		runFn: func(inputs map[string]*tensor.Tensor, outputs []string) (map[string]*tensor.Tensor, error) {
			if captured != nil {
				*captured = inputs
			}
			require.Equal(t, []string{"mel"}, outputs)
			return map[string]*tensor.Tensor{
				"mel": mustFloat(t, []int64{1, 2, 128}, make([]float32, 256)),
			}, nil
		},
	}
}

func TestAcousticF0FromHzWithToneShift(t *testing.T) {
	t.Parallel()

	var captured map[string]*tensor.Tensor
	driver := &fakeDriver{session: melSession(t, &captured)}

	engine := acoustic.New(testConfig(), nil, driver)
	require.NoError(t, engine.Initialize(api.AcousticInitArgs{}))

	result, err := engine.Start(&api.AcousticStartInput{
		Duration: 0.02,
		Words:    testWords(),
		Steps:    50,
		Parameters: []api.Parameter{
			{Tag: api.TagF0, Values: []float64{440, 440}, Interval: 0.01},
			{Tag: api.TagToneShift, Values: []float64{0, 1200}, Interval: 0.01},
		},
	})
	require.NoError(t, err)
	require.Equal(t, api.StateIdle, engine.State())

	// Hz 域加 1200 音分等于翻倍
	f0, err := tensor.View[float32](captured["f0"])
	require.NoError(t, err)
	require.InDelta(t, 440.0, float64(f0[0]), 1e-3)
	require.InDelta(t, 880.0, float64(f0[1]), 1e-3)

	// F0 张量同时保留给声码器
	require.Same(t, captured["f0"], result.F0)
	require.NotNil(t, result.Mel)
}

func TestAcousticF0FromMidi(t *testing.T) {
	t.Parallel()

	var captured map[string]*tensor.Tensor
	driver := &fakeDriver{session: melSession(t, &captured)}

	engine := acoustic.New(testConfig(), nil, driver)
	require.NoError(t, engine.Initialize(api.AcousticInitArgs{}))

	_, err := engine.Start(&api.AcousticStartInput{
		Duration: 0.02,
		Words:    testWords(),
		Steps:    50,
		Parameters: []api.Parameter{
			{Tag: api.TagPitch, Values: []float64{69, 81}, Interval: 0.01},
		},
	})
	require.NoError(t, err)

	// MIDI 69 → 440Hz, 81 → 880Hz
	f0, err := tensor.View[float32](captured["f0"])
	require.NoError(t, err)
	require.InDelta(t, 440.0, float64(f0[0]), 1e-3)
	require.InDelta(t, 880.0, float64(f0[1]), 1e-3)
}

func TestAcousticF0FromMidiWithToneShift(t *testing.T) {
	t.Parallel()

	var captured map[string]*tensor.Tensor
	driver := &fakeDriver{session: melSession(t, &captured)}

	engine := acoustic.New(testConfig(), nil, driver)
	require.NoError(t, engine.Initialize(api.AcousticInitArgs{}))

	_, err := engine.Start(&api.AcousticStartInput{
		Duration: 0.02,
		Words:    testWords(),
		Steps:    50,
		Parameters: []api.Parameter{
			{Tag: api.TagPitch, Values: []float64{69, 69}, Interval: 0.01},
			{Tag: api.TagToneShift, Values: []float64{0, 100}, Interval: 0.01},
		},
	})
	require.NoError(t, err)

	// MIDI 域先加音分再转 Hz：69 + 1 半音 → MIDI 70
	f0, err := tensor.View[float32](captured["f0"])
	require.NoError(t, err)
	require.InDelta(t, 440.0, float64(f0[0]), 1e-3)
	require.InDelta(t, 466.1638, float64(f0[1]), 1e-3)
}

func TestAcousticMissingF0AndPitch(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{session: melSession(t, nil)}
	engine := acoustic.New(testConfig(), nil, driver)
	require.NoError(t, engine.Initialize(api.AcousticInitArgs{}))

	_, err := engine.Start(&api.AcousticStartInput{
		Duration: 0.02,
		Words:    testWords(),
		Steps:    50,
	})
	require.ErrorIs(t, err, api.ErrSession)
	require.Equal(t, api.StateFailed, engine.State())
}

func TestAcousticMissingRequiredVariances(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Parameters = map[api.ParamTag]struct{}{
		api.TagEnergy:      {},
		api.TagBreathiness: {},
	}
	driver := &fakeDriver{session: melSession(t, nil)}
	engine := acoustic.New(cfg, nil, driver)
	require.NoError(t, engine.Initialize(api.AcousticInitArgs{}))

	_, err := engine.Start(&api.AcousticStartInput{
		Duration: 0.02,
		Words:    testWords(),
		Steps:    50,
		Parameters: []api.Parameter{
			{Tag: api.TagPitch, Values: []float64{69, 69}, Interval: 0.01},
		},
	})
	require.ErrorIs(t, err, api.ErrSession)
	// 缺失的参数全部列出
	require.Contains(t, err.Error(), "energy")
	require.Contains(t, err.Error(), "breathiness")
	require.Equal(t, api.StateFailed, engine.State())
}

func TestAcousticDepthQuantisation(t *testing.T) {
	t.Parallel()

	var captured map[string]*tensor.Tensor
	driver := &fakeDriver{session: melSession(t, &captured)}

	engine := acoustic.New(testConfig(), nil, driver)
	require.NoError(t, engine.Initialize(api.AcousticInitArgs{}))

	// steps=100 → speedup=10; depth=0.173 → 173 → 钳到 maxDepth 内 → 下取 10 的倍数 170
	_, err := engine.Start(&api.AcousticStartInput{
		Duration: 0.02,
		Words:    testWords(),
		Steps:    100,
		Depth:    0.173,
		Parameters: []api.Parameter{
			{Tag: api.TagF0, Values: []float64{440, 440}, Interval: 0.01},
		},
	})
	require.NoError(t, err)

	depth, err := tensor.View[int64](captured["depth"])
	require.NoError(t, err)
	require.Equal(t, []int64{170}, depth)

	speedup, err := tensor.View[int64](captured["speedup"])
	require.NoError(t, err)
	require.Equal(t, []int64{10}, speedup)
}

func TestAcousticVariableDepth(t *testing.T) {
	t.Parallel()

	var captured map[string]*tensor.Tensor
	driver := &fakeDriver{session: melSession(t, &captured)}

	cfg := testConfig()
	cfg.UseVariableDepth = true
	cfg.UseContinuousAcceleration = true
	engine := acoustic.New(cfg, nil, driver)
	require.NoError(t, engine.Initialize(api.AcousticInitArgs{}))

	_, err := engine.Start(&api.AcousticStartInput{
		Duration: 0.02,
		Words:    testWords(),
		Steps:    20,
		Depth:    0.35,
		Parameters: []api.Parameter{
			{Tag: api.TagF0, Values: []float64{440, 440}, Interval: 0.01},
		},
	})
	require.NoError(t, err)

	depth, err := tensor.View[float32](captured["depth"])
	require.NoError(t, err)
	require.InDelta(t, 0.35, float64(depth[0]), 1e-6)

	steps, err := tensor.View[int64](captured["steps"])
	require.NoError(t, err)
	require.Equal(t, []int64{20}, steps)
}

func TestAcousticTransitionDefaults(t *testing.T) {
	t.Parallel()

	var captured map[string]*tensor.Tensor
	driver := &fakeDriver{session: melSession(t, &captured)}

	cfg := testConfig()
	cfg.Parameters = map[api.ParamTag]struct{}{
		api.TagGender:   {},
		api.TagVelocity: {},
	}
	engine := acoustic.New(cfg, nil, driver)
	require.NoError(t, engine.Initialize(api.AcousticInitArgs{}))

	// gender/velocity 声明了但值为空：gender 取 0，velocity 取 1
	_, err := engine.Start(&api.AcousticStartInput{
		Duration: 0.02,
		Words:    testWords(),
		Steps:    50,
		Parameters: []api.Parameter{
			{Tag: api.TagF0, Values: []float64{440, 440}, Interval: 0.01},
			{Tag: api.TagGender, Interval: 0.01},
			{Tag: api.TagVelocity, Interval: 0.01},
		},
	})
	require.NoError(t, err)

	gender, err := tensor.View[float32](captured["gender"])
	require.NoError(t, err)
	require.Equal(t, []float32{0, 0}, gender)

	velocity, err := tensor.View[float32](captured["velocity"])
	require.NoError(t, err)
	require.Equal(t, []float32{1, 1}, velocity)
}
