// Package singer 负责歌手包的打开与描述文件解析
//
// 歌手包是一个目录，或一个 zip 归档（.zip / .dspk），根下有 singer.json
// 描述文件。归档先解压到临时目录，Close 时清理
package singer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/getcharzp/go-svs/api"
	"github.com/getcharzp/go-svs/parse"
)

// descriptorName 包描述文件名
const descriptorName = "singer.json"

// ImportEntry 描述文件中的一条阶段导入
type ImportEntry struct {
	// Class 推理阶段的 API 类名
	Class string `json:"class"`
	// Config 阶段配置文件的包内相对路径
	Config string `json:"config"`
	// Schema 阶段 schema 文件的包内相对路径（仅 variance）
	Schema string `json:"schema,omitempty"`
	// Options 导入选项对象
	Options map[string]any `json:"options,omitempty"`
}

// singerJSON 描述文件中的一位歌手
type singerJSON struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Imports []ImportEntry `json:"imports"`
}

type descriptorJSON struct {
	Singers []singerJSON `json:"singers"`
}

// InferenceSpec 一个阶段的导入规格：配置与 schema 文件的路径，
// 由流水线读取后按阶段类型做强类型解析
type InferenceSpec struct {
	// Class API 类名
	Class string
	// Dir 包内基准目录，配置中的相对路径以此拼接
	Dir string
	// ConfigPath 配置文件绝对路径
	ConfigPath string
	// SchemaPath schema 文件绝对路径，可为空
	SchemaPath string
	// Options 导入选项
	Options *api.ImportOptions
}

// SingerSpec 一位歌手及其五个阶段导入
type SingerSpec struct {
	ID      string
	Name    string
	Imports []*InferenceSpec
}

// FindImport 按 API 类名查找导入，未找到返回 nil
func (s *SingerSpec) FindImport(class string) *InferenceSpec {
	for _, imp := range s.Imports {
		if imp.Class == class {
			return imp
		}
	}
	return nil
}

// Package 已打开的歌手包
type Package struct {
	// Dir 包内容所在目录
	Dir string
	// Singers 包内歌手
	Singers []*SingerSpec

	tempDir string
}

// Open 打开歌手包。path 为目录时直接读取，为 zip 归档时先解压。
// 其余格式不支持
func Open(path string) (*Package, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: 歌手包 %q 不存在", api.ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("%w: 访问歌手包 %q 失败: %v", api.ErrFileNotOpen, path, err)
	}

	pkg := &Package{}
	if info.IsDir() {
		pkg.Dir = path
	} else {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".zip", ".dspk":
			tempDir, err := extractZip(path)
			if err != nil {
				return nil, err
			}
			pkg.Dir = tempDir
			pkg.tempDir = tempDir
		default:
			return nil, fmt.Errorf("%w: 不支持的歌手包格式 %q",
				api.ErrFeatureNotSupported, filepath.Ext(path))
		}
	}

	if err := pkg.loadDescriptor(); err != nil {
		pkg.Close()
		return nil, err
	}
	return pkg, nil
}

// Close 清理解压产生的临时目录
func (p *Package) Close() error {
	if p.tempDir != "" {
		err := os.RemoveAll(p.tempDir)
		p.tempDir = ""
		return err
	}
	return nil
}

// FindSinger 按 id 查找歌手，未找到返回 nil
func (p *Package) FindSinger(id string) *SingerSpec {
	for _, s := range p.Singers {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// loadDescriptor 读取并解析 singer.json
func (p *Package) loadDescriptor() error {
	path := filepath.Join(p.Dir, descriptorName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: 包描述文件 %q 不存在", api.ErrFileNotFound, path)
		}
		return fmt.Errorf("%w: 读取包描述文件失败: %v", api.ErrFileNotOpen, err)
	}

	var doc descriptorJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: 解析包描述文件失败: %v", api.ErrInvalidFormat, err)
	}

	for _, s := range doc.Singers {
		if s.ID == "" {
			return fmt.Errorf("%w: 包描述文件中存在缺少 id 的歌手", api.ErrInvalidFormat)
		}
		spec := &SingerSpec{ID: s.ID, Name: s.Name}
		for _, imp := range s.Imports {
			if imp.Class == "" || imp.Config == "" {
				return fmt.Errorf("%w: 歌手 %q 存在缺少 class 或 config 的导入",
					api.ErrInvalidFormat, s.ID)
			}
			inferenceSpec := &InferenceSpec{
				Class:      imp.Class,
				Dir:        p.Dir,
				ConfigPath: filepath.Join(p.Dir, filepath.FromSlash(imp.Config)),
			}
			if imp.Schema != "" {
				inferenceSpec.SchemaPath = filepath.Join(p.Dir, filepath.FromSlash(imp.Schema))
			}
			if imp.Options != nil {
				options, err := parse.ParseImportOptions(imp.Options)
				if err != nil {
					return fmt.Errorf("歌手 %q 的导入选项非法: %w", s.ID, err)
				}
				inferenceSpec.Options = options
			}
			spec.Imports = append(spec.Imports, inferenceSpec)
		}
		p.Singers = append(p.Singers, spec)
	}
	return nil
}

// extractZip 把 zip 归档解压到临时目录并返回目录路径
func extractZip(path string) (string, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("%w: 打开归档 %q 失败: %v", api.ErrFileNotOpen, path, err)
	}
	defer reader.Close()

	tempDir, err := os.MkdirTemp("", "go-svs-pkg-*")
	if err != nil {
		return "", fmt.Errorf("%w: 创建临时目录失败: %v", api.ErrFileNotOpen, err)
	}

	for _, file := range reader.File {
		target, err := sanitizePath(tempDir, file.Name)
		if err != nil {
			os.RemoveAll(tempDir)
			return "", err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				os.RemoveAll(tempDir)
				return "", fmt.Errorf("%w: 解压失败: %v", api.ErrFileNotOpen, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			os.RemoveAll(tempDir)
			return "", fmt.Errorf("%w: 解压失败: %v", api.ErrFileNotOpen, err)
		}
		if err := extractFile(file, target); err != nil {
			os.RemoveAll(tempDir)
			return "", err
		}
	}
	return tempDir, nil
}

// sanitizePath 防止归档内相对路径逃出解压目录
func sanitizePath(baseDir, name string) (string, error) {
	target := filepath.Join(baseDir, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(baseDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: 归档内非法路径 %q", api.ErrInvalidFormat, name)
	}
	return target, nil
}

func extractFile(file *zip.File, target string) error {
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("%w: 解压失败: %v", api.ErrFileNotOpen, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: 解压失败: %v", api.ErrFileNotOpen, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("%w: 解压失败: %v", api.ErrFileNotOpen, err)
	}
	return nil
}
