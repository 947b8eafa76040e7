package catalogapi

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopnow/internal/domain/catalog"
)

func decodeProducts(data []byte) ([]catalog.Product, error) {
	d := jx.DecodeBytes(data)
	if tt := d.Next(); tt != jx.Array {
		return nil, errors.Errorf("expected array, got %s", tt)
	}
	products := []catalog.Product{}
	if err := d.Arr(func(d *jx.Decoder) error {
		p, err := readProduct(d)
		if err != nil {
			return err
		}
		products = append(products, p)
		return nil
	}); err != nil {
		return nil, err
	}
	return products, nil
}

func decodeProduct(data []byte) (catalog.Product, error) {
	return readProduct(jx.DecodeBytes(data))
}

func decodeCategories(data []byte) ([]catalog.Category, error) {
	d := jx.DecodeBytes(data)
	if tt := d.Next(); tt != jx.Array {
		return nil, errors.Errorf("expected array, got %s", tt)
	}
	categories := []catalog.Category{}
	if err := d.Arr(func(d *jx.Decoder) error {
		c, err := readCategory(d)
		if err != nil {
			return err
		}
		categories = append(categories, c)
		return nil
	}); err != nil {
		return nil, err
	}
	return categories, nil
}

func readProduct(d *jx.Decoder) (catalog.Product, error) {
	var p catalog.Product
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Int64()
		case "title":
			p.Title, err = readStr(d)
		case "price":
			p.Price, err = readDecimal(d)
		case "description":
			p.Description, err = readStr(d)
		case "images":
			p.Images, err = readStrings(d)
		case "category":
			if d.Next() == jx.Null {
				return d.Null()
			}
			p.Category, err = readCategory(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "product %q", key)
		}
		return nil
	})
	return p, err
}

func readCategory(d *jx.Decoder) (catalog.Category, error) {
	var c catalog.Category
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			c.ID, err = d.Int64()
		case "name":
			c.Name, err = readStr(d)
		case "image":
			c.Image, err = readStr(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "category %q", key)
		}
		return nil
	})
	return c, err
}

func readStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func readStrings(d *jx.Decoder) ([]string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := readStr(d)
		if err != nil {
			return err
		}
		if s != "" {
			out = append(out, s)
		}
		return nil
	})
	return out, err
}

func readDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	// Quoted numbers keep their quotes in the raw value.
	return decimal.NewFromString(strings.Trim(string(n), `"`))
}
