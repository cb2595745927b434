package main

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/product"
	"github.com/xenking/kart-orders/internal/domain/user"
)

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(string(n))
	default:
		return decimal.Zero, errors.New("price must be a number")
	}
}

// decodeProduct parses one product line. Status defaults to ACTIVE.
func decodeProduct(line []byte) (product.Product, error) {
	p := product.Product{Status: product.StatusActive}
	if err := jx.DecodeBytes(line).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "category":
			p.Category, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
		case "stock":
			p.Stock, err = d.Int()
		case "status":
			var s string
			s, err = d.Str()
			p.Status = product.Status(strings.ToUpper(s))
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return p, errors.Wrap(err, "decode product")
	}

	switch {
	case strings.TrimSpace(p.ID) == "":
		return p, errors.New("product id required")
	case p.Price.IsNegative():
		return p, errors.Errorf("product %s: negative price", p.ID)
	case p.Stock < 0:
		return p, errors.Errorf("product %s: negative stock", p.ID)
	case p.Status != product.StatusActive && p.Status != product.StatusInactive:
		return p, errors.Errorf("product %s: unknown status %q", p.ID, p.Status)
	}
	return p, nil
}

// decodeUser parses one user line.
func decodeUser(line []byte) (user.User, error) {
	var u user.User
	if err := jx.DecodeBytes(line).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			u.ID, err = d.Str()
		case "email":
			u.Email, err = d.Str()
		case "shippingAddress", "address":
			u.ShippingAddress, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return u, errors.Wrap(err, "decode user")
	}
	if strings.TrimSpace(u.ID) == "" {
		return u, errors.New("user id required")
	}
	u.ShippingAddress = strings.TrimSpace(u.ShippingAddress)
	return u, nil
}
