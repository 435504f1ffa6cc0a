package singer_test

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getcharzp/go-svs/api"
	"github.com/getcharzp/go-svs/singer"
)

const descriptor = `{
	"singers": [
		{
			"id": "miriam",
			"name": "Miriam",
			"imports": [
				{"class": "ai.svs.DurationInference", "config": "duration/config.json"},
				{"class": "ai.svs.PitchInference", "config": "pitch/config.json"},
				{"class": "ai.svs.VarianceInference", "config": "variance/config.json",
				 "schema": "variance/schema.json"},
				{"class": "ai.svs.AcousticInference", "config": "acoustic/config.json",
				 "options": {"speakerMapping": {"ext": "miriam"}}},
				{"class": "ai.svs.VocoderInference", "config": "vocoder/config.json"}
			]
		}
	]
}`

func TestOpenDirectoryPackage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "singer.json"), []byte(descriptor), 0o644))

	pkg, err := singer.Open(dir)
	require.NoError(t, err)
	defer pkg.Close()

	require.Nil(t, pkg.FindSinger("nobody"))
	spec := pkg.FindSinger("miriam")
	require.NotNil(t, spec)
	require.Equal(t, "Miriam", spec.Name)
	require.Len(t, spec.Imports, 5)

	varianceImport := spec.FindImport(api.VarianceAPIClass)
	require.NotNil(t, varianceImport)
	require.Equal(t, filepath.Join(dir, "variance", "schema.json"), varianceImport.SchemaPath)

	acousticImport := spec.FindImport(api.AcousticAPIClass)
	require.NotNil(t, acousticImport)
	require.NotNil(t, acousticImport.Options)
	require.Equal(t, "miriam", acousticImport.Options.MapSpeaker("ext"))

	require.Nil(t, spec.FindImport("ai.svs.Unknown"))
}

func TestOpenZipPackage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("singer.json")
	require.NoError(t, err)
	_, err = f.Write([]byte(descriptor))
	require.NoError(t, err)
	f, err = w.Create("duration/config.json")
	require.NoError(t, err)
	_, err = f.Write([]byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	path := filepath.Join(t.TempDir(), "miriam.dspk")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	pkg, err := singer.Open(path)
	require.NoError(t, err)

	spec := pkg.FindSinger("miriam")
	require.NotNil(t, spec)
	imp := spec.FindImport(api.DurationAPIClass)
	require.NotNil(t, imp)
	_, err = os.Stat(imp.ConfigPath)
	require.NoError(t, err)

	// Close 清理解压目录
	extractedDir := pkg.Dir
	require.NoError(t, pkg.Close())
	_, err = os.Stat(extractedDir)
	require.True(t, os.IsNotExist(err))
}

func TestOpenUnsupportedFormat(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pkg.7z")
	require.NoError(t, os.WriteFile(path, []byte("not really 7z"), 0o644))

	_, err := singer.Open(path)
	require.ErrorIs(t, err, api.ErrFeatureNotSupported)
}

func TestOpenMissingPackage(t *testing.T) {
	t.Parallel()

	_, err := singer.Open(filepath.Join(t.TempDir(), "absent"))
	require.ErrorIs(t, err, api.ErrFileNotFound)
}

func TestOpenBadDescriptor(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "singer.json"), []byte("{"), 0o644))
	_, err := singer.Open(dir)
	require.ErrorIs(t, err, api.ErrInvalidFormat)

	dir2 := t.TempDir()
	_, err = singer.Open(dir2)
	require.ErrorIs(t, err, api.ErrFileNotFound)
}
