package cache

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"tradebalance/internal/model"
)

var (
	ErrNotFound   = errors.New("cache: artifact not found")
	ErrInvalidKey = errors.New("cache: invalid key")
)

// Kinds lists the generated dataset kinds in the order they are produced.
var Kinds = []model.DataKind{
	model.KindGoodsAggregate,
	model.KindServicesAggregate,
	model.KindGoodsPartners,
	model.KindServicesPartners,
}

// Key identifies one cached artifact. Aggregate kinds carry no country or
// flow.
type Key struct {
	Kind    model.DataKind
	Country string
	Flow    model.Flow
}

func AggregateKey(kind model.DataKind) Key {
	return Key{Kind: kind}
}

func PartnerKey(kind model.DataKind, country string, flow model.Flow) Key {
	return Key{Kind: kind, Country: strings.ToUpper(strings.TrimSpace(country)), Flow: flow}
}

func (k Key) IsAggregate() bool {
	return k.Kind == model.KindGoodsAggregate || k.Kind == model.KindServicesAggregate
}

func (k Key) Validate() error {
	switch k.Kind {
	case model.KindGoodsAggregate, model.KindServicesAggregate:
		if k.Country != "" || k.Flow != "" {
			return fmt.Errorf("%w: aggregate %s takes no country or flow", ErrInvalidKey, k.Kind)
		}
		return nil
	case model.KindGoodsPartners, model.KindServicesPartners:
		if k.Country == "" {
			return fmt.Errorf("%w: %s requires a country", ErrInvalidKey, k.Kind)
		}
		if k.Flow != model.FlowExport && k.Flow != model.FlowImport {
			return fmt.Errorf("%w: %s requires a flow", ErrInvalidKey, k.Kind)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidKey, k.Kind)
	}
}

// Dir is the directory holding artifacts of kind.
func Dir(kind model.DataKind) string {
	return string(kind)
}

// Path is the slash-separated relative location of the artifact.
func (k Key) Path() string {
	switch k.Kind {
	case model.KindGoodsAggregate:
		return path.Join(Dir(k.Kind), "goods_aggregate.csv")
	case model.KindServicesAggregate:
		return path.Join(Dir(k.Kind), "services_aggregate.csv")
	case model.KindGoodsPartners:
		return path.Join(Dir(k.Kind), fmt.Sprintf("partners_%s_%s.csv", k.Country, k.Flow.FileLabel()))
	case model.KindServicesPartners:
		return path.Join(Dir(k.Kind), fmt.Sprintf("services_partners_%s_%s.csv", k.Country, k.Flow.FileLabel()))
	default:
		return ""
	}
}

func (k Key) String() string {
	if p := k.Path(); p != "" {
		return p
	}
	return string(k.Kind)
}

var partnerFile = regexp.MustCompile(`^(?:services_)?partners_([A-Z0-9_]+)_(imports|exports)\.csv$`)

// ParsePath is the inverse of Key.Path.
func ParsePath(p string) (Key, bool) {
	dir, name := path.Split(strings.TrimPrefix(path.Clean(p), "/"))
	kind := model.DataKind(strings.TrimSuffix(dir, "/"))
	switch kind {
	case model.KindGoodsAggregate, model.KindServicesAggregate:
		key := AggregateKey(kind)
		if key.Path() == path.Join(dir, name) {
			return key, true
		}
		return Key{}, false
	case model.KindGoodsPartners, model.KindServicesPartners:
		m := partnerFile.FindStringSubmatch(name)
		if m == nil {
			return Key{}, false
		}
		flow, _ := model.ParseFlow(m[2])
		key := PartnerKey(kind, m[1], flow)
		if key.Path() != path.Join(dir, name) {
			return Key{}, false
		}
		return key, true
	default:
		return Key{}, false
	}
}

// Info describes an artifact without its content.
type Info struct {
	Key     Key
	Size    int64
	ModTime time.Time
}

// Artifact is a whole cached payload.
type Artifact struct {
	Key     Key
	Data    []byte
	Size    int64
	ModTime time.Time
}

// Store persists artifacts as whole values: a reader never observes a
// partially written artifact.
type Store interface {
	Get(ctx context.Context, key Key) (Artifact, error)
	Put(ctx context.Context, key Key, data []byte) error
	Stat(ctx context.Context, key Key) (Info, error)
	Delete(ctx context.Context, key Key) error
	List(ctx context.Context, kind model.DataKind) ([]Key, error)
	Purge(ctx context.Context) error
}
