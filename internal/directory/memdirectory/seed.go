package memdirectory

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/alertenrich/internal/enrich"
)

// seedFile is the on-disk layout of a directory seed file.
type seedFile struct {
	Patients []seedPatient `yaml:"patients"`
}

type seedPatient struct {
	ID        int64         `yaml:"id"`
	HouseID   int64         `yaml:"houseId"`
	FirstName string        `yaml:"firstName"`
	LastName  string        `yaml:"lastName"`
	Doctor    *seedProvider `yaml:"doctor"`
	Nurse     *seedProvider `yaml:"nurse"`
}

type seedProvider struct {
	ID        int64  `yaml:"id"`
	FirstName string `yaml:"firstName"`
	LastName  string `yaml:"lastName"`
	Email     string `yaml:"email"`
}

// LoadFile reads and validates a seed file, returning patients keyed by house id.
func LoadFile(path string) (map[int64]*enrich.Patient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file %q: %w", path, err)
	}
	patients, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("seed file %q: %w", path, err)
	}
	return patients, nil
}

// Parse decodes seed YAML. Every patient needs a positive, unique houseId.
func Parse(data []byte) (map[int64]*enrich.Patient, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	out := make(map[int64]*enrich.Patient, len(f.Patients))
	var errs []error
	for i, sp := range f.Patients {
		if sp.HouseID <= 0 {
			errs = append(errs, fmt.Errorf("patients[%d]: houseId must be > 0", i))
			continue
		}
		if _, dup := out[sp.HouseID]; dup {
			errs = append(errs, fmt.Errorf("patients[%d]: duplicate houseId %d", i, sp.HouseID))
			continue
		}
		out[sp.HouseID] = &enrich.Patient{
			ID:        sp.ID,
			FirstName: sp.FirstName,
			LastName:  sp.LastName,
			SubjectID: strconv.FormatInt(sp.HouseID, 10),
			Doctor:    sp.Doctor.provider(),
			Nurse:     sp.Nurse.provider(),
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *seedProvider) provider() *enrich.CareProvider {
	if p == nil {
		return nil
	}
	return &enrich.CareProvider{
		ID:    p.ID,
		Name:  strings.TrimSpace(p.FirstName + " " + p.LastName),
		Email: p.Email,
	}
}

// Load replaces the store contents with the seed file at path. On error the
// current contents are left untouched.
func (s *Store) Load(path string) error {
	patients, err := LoadFile(path)
	if err != nil {
		return err
	}
	s.Replace(patients)
	return nil
}
