package inferutil_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getcharzp/go-svs/api"
	"github.com/getcharzp/go-svs/inferutil"
	"github.com/getcharzp/go-svs/tensor"
)

func TestSpeakerEmbeddingFrames(t *testing.T) {
	t.Parallel()

	speakers := map[string][]float32{
		"alpha": {1, 0},
		"beta":  {0, 2},
	}
	// alpha 覆盖前半段，beta 覆盖后半段，各占比 0.5
	mixes := []api.SpeakerMix{
		{Name: "alpha", Proportion: 0.5, Begin: 0, End: 0.02},
		{Name: "beta", Proportion: 0.5, Begin: 0.02, End: 0.04},
	}
	embed, err := inferutil.PreprocessSpeakerEmbeddingFrames(mixes, speakers, nil, 2, 0.01, 4)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 4, 2}, embed.Shape())

	view, err := tensor.View[float32](embed)
	require.NoError(t, err)
	require.Equal(t, []float32{
		0.5, 0, // 帧 0
		0.5, 0, // 帧 1
		0, 1, // 帧 2
		0, 1, // 帧 3
	}, view)
}

func TestSpeakerEmbeddingFramesFullSpan(t *testing.T) {
	t.Parallel()

	speakers := map[string][]float32{"solo": {2, 4}}
	// End <= Begin 视为覆盖整个时间轴
	mixes := []api.SpeakerMix{{Name: "solo", Proportion: 1}}
	embed, err := inferutil.PreprocessSpeakerEmbeddingFrames(mixes, speakers, nil, 2, 0.01, 2)
	require.NoError(t, err)
	view, err := tensor.View[float32](embed)
	require.NoError(t, err)
	require.Equal(t, []float32{2, 4, 2, 4}, view)
}

func TestSpeakerEmbeddingFramesMapping(t *testing.T) {
	t.Parallel()

	speakers := map[string][]float32{"internal": {1}}
	mixes := []api.SpeakerMix{{Name: "external", Proportion: 1}}

	_, err := inferutil.PreprocessSpeakerEmbeddingFrames(mixes, speakers, nil, 1, 0.01, 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), `"external"`)

	mapping := map[string]string{"external": "internal"}
	embed, err := inferutil.PreprocessSpeakerEmbeddingFrames(mixes, speakers, mapping, 1, 0.01, 1)
	require.NoError(t, err)
	view, err := tensor.View[float32](embed)
	require.NoError(t, err)
	require.Equal(t, []float32{1}, view)
}

func TestMixPhoneSpeakerEmbeddings(t *testing.T) {
	t.Parallel()

	speakers := map[string][]float32{
		"alpha": {1, 0},
		"beta":  {0, 1},
	}
	words := []api.Word{{
		Notes: []api.Note{{Key: 60, Duration: 1}},
		Phones: []api.Phone{
			{Token: "a", Speakers: []api.SpeakerProportion{
				{Name: "alpha", Proportion: 0.25},
				{Name: "beta", Proportion: 0.75},
			}},
		},
	}}
	embed, err := inferutil.MixPhoneSpeakerEmbeddings(words, speakers, nil, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 1, 2}, embed.Shape())
	view, err := tensor.View[float32](embed)
	require.NoError(t, err)
	require.Equal(t, []float32{0.25, 0.75}, view)
}

func TestMixPhoneSpeakerEmbeddingsMissing(t *testing.T) {
	t.Parallel()

	words := []api.Word{{
		Notes:  []api.Note{{Key: 60, Duration: 1}},
		Phones: []api.Phone{{Token: "a"}},
	}}
	_, err := inferutil.MixPhoneSpeakerEmbeddings(words, map[string][]float32{}, nil, 2)
	require.Error(t, err)
	require.Contains(t, err.Error(), `"a"`)
}
