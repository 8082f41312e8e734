package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/avmerge/internal/domain"
	"github.com/John-Robertt/avmerge/internal/infra/fsx"
	"github.com/John-Robertt/avmerge/internal/source"
)

// SourceName 是缓存作为 source 时的名字（可出现在 sources 配置里）。
const SourceName = "cache"

// Store 提供 <path>/cache/ 下的文件缓存读写。
//
// 布局：
// - cache/records/<KEY>.json   聚合并校验通过的 Record（不含二进制字段）
// - cache/reports/<RUN_ID>.json 每次 apply 的 RunReport
//
// 约束：
// - dry-run：只允许读（ReadOnly=true）
// - apply：允许写（ReadOnly=false）
type Store struct {
	Root     string // <path>（扫描根目录）
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

func New(root string, readOnly bool) Store {
	return Store{
		Root:     filepath.Clean(strings.TrimSpace(root)),
		ReadOnly: readOnly,
	}
}

func (s Store) Dir() string { return filepath.Join(s.Root, "cache") }

// RecordPath 返回 identity 的 Record 缓存路径（part 不参与）。
func (s Store) RecordPath(id domain.Identity) (string, error) {
	key := id.Key()
	if key == "" {
		return "", fmt.Errorf("identity 不能为空")
	}
	return filepath.Join(s.Dir(), "records", key+".json"), nil
}

// ReadRecord 读取缓存的 Record；不存在时 ok=false 且 err=nil。
func (s Store) ReadRecord(id domain.Identity) (rec *domain.Record, ok bool, err error) {
	path, err := s.RecordPath(id)
	if err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	rec = &domain.Record{}
	if err := json.Unmarshal(b, rec); err != nil {
		return nil, true, fmt.Errorf("解析缓存 %q 失败：%w", path, err)
	}
	if !rec.ID.Equal(id) {
		return nil, true, fmt.Errorf("缓存 %q 的 identity 不匹配：%s", path, rec.ID)
	}
	return rec, true, nil
}

// WriteRecord 覆盖写入 Record 缓存（二进制字段不落盘）。
func (s Store) WriteRecord(rec *domain.Record) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	if rec == nil {
		return fmt.Errorf("record 不能为空")
	}
	path, err := s.RecordPath(rec.ID)
	if err != nil {
		return err
	}
	// part 只对单个文件有意义，缓存里统一去掉。
	c := *rec
	c.ID = rec.ID.WithPart(0)
	b, err := json.MarshalIndent(&c, "", "  ")
	if err != nil {
		return err
	}
	return fsx.ReplaceAtomic(filepath.Dir(path), filepath.Base(path), append(b, '\n'))
}

// WriteReport 把 RunReport 写入 cache/reports/<run_id>.json。
func (s Store) WriteReport(r domain.RunReport) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	if strings.TrimSpace(r.RunID) == "" || strings.ContainsAny(r.RunID, `/\`) {
		return fmt.Errorf("非法 run_id：%q", r.RunID)
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return fsx.ReplaceAtomic(filepath.Join(s.Dir(), "reports"), r.RunID+".json", append(b, '\n'))
}

// Source 把 Store 暴露为一个 source：读取上一次 apply 落盘的 Record。
//
// 这让“补齐缺失的 sidecar”这类重跑不必再访问站点；缓存不含图片，图片仍需其它 source 提供。
type Source struct {
	Store Store
}

func (Source) Name() string { return SourceName }

func (Source) Supports(id domain.Identity) bool { return !id.IsZero() }

func (c Source) Find(_ context.Context, id domain.Identity) (*domain.Record, error) {
	rec, ok, err := c.Store.ReadRecord(id)
	if err != nil {
		return nil, &source.Error{Source: SourceName, Stage: source.StageParse, Err: err}
	}
	if !ok {
		return domain.NewRecord(id), nil
	}
	// 来源链路由本次聚合重新记录。
	rec.ID = id
	rec.Sources = nil
	return rec, nil
}
