package gatekeeper

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultVehicleClasses are ImageNet indices for vehicles and parts that show
// up in close-up damage photos.
var DefaultVehicleClasses = []int{
	// cars and vehicles
	407, // ambulance
	436, // beach wagon
	468, // cab
	511, // convertible
	581, // grille
	609, // jeep
	627, // limousine
	656, // minivan
	661, // Model T
	705, // passenger car
	717, // pickup
	734, // police van
	751, // racer
	757, // recreational vehicle
	779, // school bus
	817, // sports car
	829, // streetcar
	864, // tow truck
	867, // trailer truck
	907, // wrecker

	// other vehicle-like classes
	408, // amphibian
	479, // car wheel
	555, // fire engine
	569, // freight car
	573, // garbage truck
	586, // half track
	594, // harvester
	603, // horse cart
	612, // jinrikisha
	654, // minibus
	671, // motor scooter
	675, // moving van
	740, // projectile
	744, // prowler
	803, // snowplow
	820, // steam locomotive
	847, // tank
	870, // trolleybus
	874, // truck
	880, // unicycle
	895, // warplane
}

// ClassSet is a set of classifier output indices.
type ClassSet map[int]struct{}

func NewClassSet(indices []int) ClassSet {
	set := make(ClassSet, len(indices))
	for _, i := range indices {
		set[i] = struct{}{}
	}
	return set
}

func (s ClassSet) Contains(i int) bool {
	_, ok := s[i]
	return ok
}

type classFile struct {
	VehicleClasses []int `yaml:"vehicle_classes"`
}

// LoadClassSet reads a YAML file of the form
//
//	vehicle_classes:
//	  - 407 # ambulance
//	  - 436
func LoadClassSet(path string) (ClassSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vehicle classes: %w", err)
	}

	var f classFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse vehicle classes %s: %w", path, err)
	}
	if len(f.VehicleClasses) == 0 {
		return nil, fmt.Errorf("vehicle classes %s: no classes listed", path)
	}
	for _, i := range f.VehicleClasses {
		if i < 0 {
			return nil, fmt.Errorf("vehicle classes %s: negative index %d", path, i)
		}
	}
	return NewClassSet(f.VehicleClasses), nil
}
