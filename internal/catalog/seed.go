package catalog

import (
	"fmt"
	"io"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Stores []struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		CityID   string `yaml:"city_id"`
		ZoneID   string `yaml:"zone_id"`
		Products []struct {
			ID        string `yaml:"id"`
			Name      string `yaml:"name"`
			Price     string `yaml:"price"`
			Available *bool  `yaml:"available"`
		} `yaml:"products"`
	} `yaml:"stores"`
}

// LoadYAML fills the catalog from a seed document:
//
//	stores:
//	  - id: 6f1c...
//	    name: Pizza
//	    city_id: almaty
//	    products:
//	      - {id: 9a0e..., name: Margherita, price: "5.00"}
//
// Products are available unless stated otherwise.
func (m *Memory) LoadYAML(r io.Reader) error {
	var seed seedFile
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("catalog: invalid seed: %w", err)
	}

	for _, s := range seed.Stores {
		storeID, err := uuid.FromString(s.ID)
		if err != nil {
			return fmt.Errorf("catalog: store %q has invalid id: %w", s.Name, err)
		}
		m.PutStore(Store{ID: storeID, Name: s.Name, CityID: s.CityID, ZoneID: s.ZoneID})

		for _, p := range s.Products {
			productID, err := uuid.FromString(p.ID)
			if err != nil {
				return fmt.Errorf("catalog: product %q has invalid id: %w", p.Name, err)
			}
			price, err := decimal.NewFromString(p.Price)
			if err != nil {
				return fmt.Errorf("catalog: product %q has invalid price %q: %w", p.Name, p.Price, err)
			}
			if price.IsNegative() {
				return fmt.Errorf("catalog: product %q has negative price", p.Name)
			}
			available := p.Available == nil || *p.Available
			if err := m.PutProduct(storeID, Price{ProductID: productID, Name: p.Name, Price: price, Available: available}); err != nil {
				return err
			}
		}
	}
	return nil
}
