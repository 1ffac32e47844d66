package main

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/nopego-checkout/internal/domain/catalog"
)

const defaultLowStock = 5

// parseCatalog decodes the seed file: an array of products with nested
// variants. Prices are decimal strings or numbers. Products are active
// unless "active" is false.
func parseCatalog(data []byte) ([]catalog.Product, error) {
	var products []catalog.Product
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		p := catalog.Product{Active: true}
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				p.ID, err = d.Str()
			case "name":
				p.Name, err = d.Str()
			case "basePrice":
				p.BasePrice, err = decodeAmount(d)
			case "discountedPrice":
				var v decimal.Decimal
				v, err = decodeAmount(d)
				p.DiscountedPrice = decimal.NewNullDecimal(v)
			case "active":
				p.Active, err = d.Bool()
			case "variants":
				err = d.Arr(func(d *jx.Decoder) error {
					v, err := decodeVariant(d)
					p.Variants = append(p.Variants, v)
					return err
				})
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		if p.ID == "" || p.Name == "" {
			return errors.Errorf("product %d: id and name are required", len(products)+1)
		}
		if len(p.Variants) == 0 {
			return errors.Errorf("product %s: no variants", p.ID)
		}
		products = append(products, p)
		return nil
	})
	return products, err
}

func decodeVariant(d *jx.Decoder) (catalog.Variant, error) {
	v := catalog.Variant{LowStockThreshold: defaultLowStock}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			v.ID, err = d.Str()
		case "sku":
			v.SKU, err = d.Str()
		case "size":
			v.Size, err = d.Str()
		case "color":
			v.Color, err = d.Str()
		case "stock":
			v.Stock, err = d.Int()
		case "lowStockThreshold":
			v.LowStockThreshold, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && (v.ID == "" || v.SKU == "") {
		err = errors.New("variant id and sku are required")
	}
	return v, err
}

func decodeAmount(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	}
	return decimal.NewFromString(raw)
}
