// Package hts is the historical time-series master: documents describing a series (what is
// observed, by whom, when) plus the series' dated values.
package hts

import (
	"errors"
	"fmt"

	"github.com/AntonStoeckl/bitemporal-master-go/master"
)

// Scheme is the ObjectID scheme of time-series documents.
const Scheme = "DbHts"

// Search attribute keys.
const (
	AttrDataSource      = "dataSource"
	AttrDataProvider    = "dataProvider"
	AttrDataField       = "dataField"
	AttrObservationTime = "observationTime"
)

// Info describes one historical time series.
type Info struct {
	Name                string                           `json:"name"`
	DataField           string                           `json:"dataField"`
	DataSource          string                           `json:"dataSource"`
	DataProvider        string                           `json:"dataProvider"`
	ObservationTime     string                           `json:"observationTime"`
	ExternalIDBundle    master.ExternalIDBundleWithDates `json:"externalIdBundle"`
	RequiredPermissions []string                         `json:"requiredPermissions,omitempty"`
}

var (
	ErrMissingName             = fmt.Errorf("%w: name is required", master.ErrInvalidArgument)
	ErrMissingDataField        = fmt.Errorf("%w: dataField is required", master.ErrInvalidArgument)
	ErrMissingDataSource       = fmt.Errorf("%w: dataSource is required", master.ErrInvalidArgument)
	ErrMissingDataProvider     = fmt.Errorf("%w: dataProvider is required", master.ErrInvalidArgument)
	ErrMissingObservationTime  = fmt.Errorf("%w: observationTime is required", master.ErrInvalidArgument)
	ErrMissingExternalIDBundle = fmt.Errorf("%w: externalIdBundle must not be empty", master.ErrInvalidArgument)
)

// Validate reports every missing mandatory field.
func Validate(info *Info) error {
	var errs []error

	if info.Name == "" {
		errs = append(errs, ErrMissingName)
	}

	if info.DataField == "" {
		errs = append(errs, ErrMissingDataField)
	}

	if info.DataSource == "" {
		errs = append(errs, ErrMissingDataSource)
	}

	if info.DataProvider == "" {
		errs = append(errs, ErrMissingDataProvider)
	}

	if info.ObservationTime == "" {
		errs = append(errs, ErrMissingObservationTime)
	}

	if len(info.ExternalIDBundle) == 0 {
		errs = append(errs, ErrMissingExternalIDBundle)
	}

	return errors.Join(errs...)
}

// SearchKeys exposes the name, the external ids, and the four descriptive fields to searches.
func SearchKeys(info *Info) master.SearchKeys {
	return master.SearchKeys{
		Name:        info.Name,
		ExternalIDs: info.ExternalIDBundle,
		Attributes: map[string]string{
			AttrDataSource:      info.DataSource,
			AttrDataProvider:    info.DataProvider,
			AttrDataField:       info.DataField,
			AttrObservationTime: info.ObservationTime,
		},
	}
}
