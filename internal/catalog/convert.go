package catalog

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/vitacare-erp/vitacare/internal/shared"
)

// NormalizeUnit canonicalises a unit name for comparison. Vietnamese unit
// labels arrive in both composed and decomposed Unicode forms depending on
// the client keyboard, so both sides of every lookup go through NFC.
func NormalizeUnit(unit string) string {
	return norm.NFC.String(strings.TrimSpace(unit))
}

// BaseVariant returns the variant with ratio 1. Products without variants
// fall back to their plain declared unit.
func BaseVariant(p Product) (UnitVariant, bool) {
	for _, v := range p.Variants {
		if v.Ratio == 1 {
			return v, true
		}
	}
	if len(p.Variants) == 0 && p.DefaultUnit != "" {
		return UnitVariant{ProductID: p.ID, Unit: p.DefaultUnit, Ratio: 1, Price: p.Price}, true
	}
	return UnitVariant{}, false
}

// FindVariant looks up a variant by normalised unit name.
func FindVariant(p Product, unit string) (UnitVariant, bool) {
	want := NormalizeUnit(unit)
	for _, v := range p.Variants {
		if NormalizeUnit(v.Unit) == want {
			return v, true
		}
	}
	if len(p.Variants) == 0 && NormalizeUnit(p.DefaultUnit) == want {
		return UnitVariant{ProductID: p.ID, Unit: p.DefaultUnit, Ratio: 1, Price: p.Price}, true
	}
	return UnitVariant{}, false
}

// ConvertToBase translates quantity of the named unit into base units.
// The product must define a ratio-1 variant; quantity must be positive.
func ConvertToBase(p Product, quantity int64, unit string) (Conversion, error) {
	if quantity <= 0 {
		return Conversion{}, shared.NewValidation("quantity", "must be positive")
	}
	base, ok := BaseVariant(p)
	if !ok {
		return Conversion{}, shared.NewValidation("product", "no base unit defined")
	}
	variant, ok := FindVariant(p, unit)
	if !ok {
		return Conversion{}, shared.ErrUnitNotFound
	}
	return Conversion{
		ProductID:    p.ID,
		ProductName:  p.Name,
		Unit:         variant.Unit,
		BaseUnit:     base.Unit,
		Ratio:        variant.Ratio,
		BaseQuantity: quantity * variant.Ratio,
		UnitPrice:    variant.Price,
	}, nil
}
