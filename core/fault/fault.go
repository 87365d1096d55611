// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package fault defines the error taxonomy of the facet engine.
//
// Every error the engine produces belongs to one of five classes. Request
// and not-found errors are the client's fault and carry a message that is
// safe to return. Implementation errors indicate a broken resource
// configuration or a violated contract between engine components. Data
// errors indicate that a datasource returned rows which do not satisfy the
// configured keys. Adapter errors are passed through from a datasource.
package fault

import (
	"net/http"

	errors "gopkg.in/src-d/go-errors.v1"
)

// Class groups error kinds by who is responsible and how they surface.
type Class int

// all error classes
const (
	ClassUnknown Class = iota
	ClassRequest
	ClassNotFound
	ClassImplementation
	ClassData
	ClassAdapter
)

// Request errors, surfaced to the client with status 400.
var (
	ErrUnknownResource     = errors.NewKind("Unknown resource %s in request")
	ErrUnknownAttribute    = errors.NewKind("Unknown attribute %q in request")
	ErrHiddenAttribute     = errors.NewKind("Unknown attribute %q in request (is hidden)")
	ErrInvalidOption       = errors.NewKind("Invalid option %q for attribute %q")
	ErrIDOnlyAtRoot        = errors.NewKind("Invalid option \"id\" on attribute %q")
	ErrLimitOnSingle       = errors.NewKind("Invalid limit on a single resource")
	ErrInvalidLimit        = errors.NewKind("Invalid limit %d, maxLimit is %d")
	ErrPageWithoutLimit    = errors.NewKind("Invalid option \"page\" without a limit")
	ErrUnorderable         = errors.NewKind("Can not order by %q")
	ErrInvalidDirection    = errors.NewKind("Can not order by %q in direction %q")
	ErrUnfilterable        = errors.NewKind("Can not filter by %q")
	ErrInvalidOperator     = errors.NewKind("Can not filter by %q with %q (allowed: %s)")
	ErrNoFulltextSearch    = errors.NewKind("Fulltext search not supported by resource %s")
	ErrUnknownAction       = errors.NewKind("Unknown action %q on resource %s")
	ErrUnknownFormat       = errors.NewKind("Unknown format %q for action %q")
	ErrDuplicateParameter  = errors.NewKind("Duplicate parameter %q in URL")
	ErrInvalidPayload      = errors.NewKind("Invalid payload, must be valid JSON")
	ErrMissingContentType  = errors.NewKind("Missing Content-Type header in POST request")
	ErrPostTimeout         = errors.NewKind("Timeout reading POST data")
	ErrInvalidSyntax       = errors.NewKind("Invalid %s syntax near %q")
	ErrRejectedByHandler   = errors.NewKind("Request rejected: %s")
	ErrInvalidRequestValue = errors.NewKind("Invalid value %q for request option %q")
)

// Not-found errors, surfaced to the client with status 404.
var (
	ErrNotFound = errors.NewKind("Requested item not found")
)

// Implementation errors. Broken configuration or a violated contract
// between resolver, executor and builder. Status 500, message hidden
// unless the API is built with ExposeErrors.
var (
	ErrUnknownIncludedResource = errors.NewKind("Unknown resource %s (included from: %s)")
	ErrInclusionDepth          = errors.NewKind("Resource inclusion depth too big (included from: %s)")
	ErrNoDataSources           = errors.NewKind("No DataSources defined in resource %s")
	ErrOverwriteAttribute      = errors.NewKind("Cannot overwrite attribute %s in %s")
	ErrOverwriteDataSource     = errors.NewKind("Cannot overwrite datasource %s in %s")
	ErrUnknownDataSource       = errors.NewKind("Unknown datasource %s in resource %s")
	ErrUnmappedAttribute       = errors.NewKind("Attribute %s is not mapped in datasource %s")
	ErrMissingResult           = errors.NewKind("Missing result for %s from datasource %s")
	ErrMissingSubFilter        = errors.NewKind("Missing sub-filter %d for %s")
	ErrInvalidConfig           = errors.NewKind("Invalid resource configuration: %s")
	ErrUnknownPlugin           = errors.NewKind("Unknown plugin %s")
	ErrUnknownAdapterType      = errors.NewKind("No adapter registered for datasource type %s")
	ErrNotInitialized          = errors.NewKind("API not initialized")
)

// Data errors. The backend returned rows that violate the configured
// keys. Fatal unless explicitly demoted by the caller.
var (
	ErrMissingKeyColumn = errors.NewKind("Result row for %s from datasource %s is missing key column %q")
	ErrMissingColumn    = errors.NewKind("Result row for %s from datasource %s is missing column %q")
)

// Adapter errors, passthrough from a datasource. Status 500.
var (
	ErrAdapter = errors.NewKind("Datasource %s failed")
)

var classes = map[*errors.Kind]Class{
	ErrUnknownResource:     ClassRequest,
	ErrUnknownAttribute:    ClassRequest,
	ErrHiddenAttribute:     ClassRequest,
	ErrInvalidOption:       ClassRequest,
	ErrIDOnlyAtRoot:        ClassRequest,
	ErrLimitOnSingle:       ClassRequest,
	ErrInvalidLimit:        ClassRequest,
	ErrPageWithoutLimit:    ClassRequest,
	ErrUnorderable:         ClassRequest,
	ErrInvalidDirection:    ClassRequest,
	ErrUnfilterable:        ClassRequest,
	ErrInvalidOperator:     ClassRequest,
	ErrNoFulltextSearch:    ClassRequest,
	ErrUnknownAction:       ClassRequest,
	ErrUnknownFormat:       ClassRequest,
	ErrDuplicateParameter:  ClassRequest,
	ErrInvalidPayload:      ClassRequest,
	ErrMissingContentType:  ClassRequest,
	ErrPostTimeout:         ClassRequest,
	ErrInvalidSyntax:       ClassRequest,
	ErrRejectedByHandler:   ClassRequest,
	ErrInvalidRequestValue: ClassRequest,

	ErrNotFound: ClassNotFound,

	ErrUnknownIncludedResource: ClassImplementation,
	ErrInclusionDepth:          ClassImplementation,
	ErrNoDataSources:           ClassImplementation,
	ErrOverwriteAttribute:      ClassImplementation,
	ErrOverwriteDataSource:     ClassImplementation,
	ErrUnknownDataSource:       ClassImplementation,
	ErrUnmappedAttribute:       ClassImplementation,
	ErrMissingResult:           ClassImplementation,
	ErrMissingSubFilter:        ClassImplementation,
	ErrInvalidConfig:           ClassImplementation,
	ErrUnknownPlugin:           ClassImplementation,
	ErrUnknownAdapterType:      ClassImplementation,
	ErrNotInitialized:          ClassImplementation,

	ErrMissingKeyColumn: ClassData,
	ErrMissingColumn:    ClassData,

	ErrAdapter: ClassAdapter,
}

// ClassOf returns the class of an engine error, or ClassUnknown for
// foreign errors.
func ClassOf(err error) Class {
	for kind, class := range classes {
		if kind.Is(err) {
			return class
		}
	}
	return ClassUnknown
}

// StatusOf maps an error to the HTTP status code it surfaces with.
// Foreign errors map to an internal server error.
func StatusOf(err error) int {
	switch ClassOf(err) {
	case ClassRequest:
		return http.StatusBadRequest
	case ClassNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the error text that may be shown to a client. Messages
// of implementation, data and adapter errors are hidden unless expose is
// set.
func Message(err error, expose bool) string {
	switch ClassOf(err) {
	case ClassRequest, ClassNotFound:
		return err.Error()
	}
	if expose {
		return err.Error()
	}
	return "internal server error"
}
