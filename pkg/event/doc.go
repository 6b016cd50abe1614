// Package event defines the canonical analytics event record, the
// normalization of raw incoming payloads into that record, and the
// validation rules applied before an event is admitted for persistence.
//
// Normalization is a pure transform: identity and plugin are lifted out of
// the raw context, the creation timestamp defaults to arrival time, and the
// context/attributes payloads are either kept structured or JSON-stringified
// depending on whether the destination store supports native JSON. The
// representation is fixed at construction and never mixed within one record.
package event
