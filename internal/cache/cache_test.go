package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tradebalance/internal/model"
)

func TestKeyPaths(t *testing.T) {
	cases := []struct {
		key  Key
		want string
	}{
		{AggregateKey(model.KindGoodsAggregate), "goods/goods_aggregate.csv"},
		{AggregateKey(model.KindServicesAggregate), "services/services_aggregate.csv"},
		{PartnerKey(model.KindGoodsPartners, "es", model.FlowImport), "partners/partners_ES_imports.csv"},
		{PartnerKey(model.KindServicesPartners, "DE", model.FlowExport), "partners_services/services_partners_DE_exports.csv"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.key.Path())
		assert.NoError(t, c.key.Validate())

		parsed, ok := ParsePath(c.want)
		assert.True(t, ok, c.want)
		assert.Equal(t, c.key, parsed)
	}
}

func TestParsePathRejectsForeignFiles(t *testing.T) {
	for _, p := range []string{
		"partners/services_partners_ES_imports.csv",
		"partners/partners_ES_both.csv",
		"goods/other.csv",
		"unknown/partners_ES_imports.csv",
	} {
		_, ok := ParsePath(p)
		assert.False(t, ok, p)
	}
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, Key{Kind: model.KindGoodsPartners, Flow: model.FlowExport}.Validate(), ErrInvalidKey)
	assert.ErrorIs(t, Key{Kind: model.KindGoodsPartners, Country: "ES"}.Validate(), ErrInvalidKey)
	assert.ErrorIs(t, Key{Kind: model.KindGoodsAggregate, Country: "ES"}.Validate(), ErrInvalidKey)
	assert.ErrorIs(t, Key{Kind: "bogus"}.Validate(), ErrInvalidKey)
}
