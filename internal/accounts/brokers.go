package accounts

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// BrokerServer is one selectable trade server of a broker.
type BrokerServer struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`
}

// Broker is one supported broker and its server list.
type Broker struct {
	BrokerName  string         `yaml:"broker_name" json:"broker_name"`
	DisplayName string         `yaml:"display_name" json:"display_name"`
	Servers     []BrokerServer `yaml:"servers" json:"servers"`
}

// Directory is the static read-only broker listing. It is configuration
// data, never derived from live terminal state.
type Directory struct {
	Brokers []Broker `yaml:"brokers"`
}

// LoadDirectory reads the broker directory from a YAML file.
func LoadDirectory(path string) (*Directory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading broker directory %s", path)
	}

	var dir Directory
	if err := yaml.Unmarshal(raw, &dir); err != nil {
		return nil, errors.Wrapf(err, "parsing broker directory %s", path)
	}
	return &dir, nil
}

// All returns every known broker.
func (d *Directory) All() []Broker {
	return d.Brokers
}

// Servers returns the server list for a broker, nil when unknown.
func (d *Directory) Servers(brokerName string) []BrokerServer {
	for _, b := range d.Brokers {
		if b.BrokerName == brokerName {
			return b.Servers
		}
	}
	return nil
}
