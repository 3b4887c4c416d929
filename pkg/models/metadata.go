package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PublicationMetadata is the typed payload for publication workflows.
type PublicationMetadata struct {
	Title              string `json:"title"`
	ISBN               string `json:"isbn,omitempty"`
	PublisherReference string `json:"publisher_reference,omitempty"`
	Language           string `json:"language,omitempty"`
}

// LegalDepositMetadata is the typed payload for legal-deposit workflows.
type LegalDepositMetadata struct {
	DepositNumber string `json:"deposit_number"`
	DepositorName string `json:"depositor_name"`
	CopyCount     int    `json:"copy_count,omitempty"`
}

// ReproductionMetadata is the typed payload for reproduction requests.
type ReproductionMetadata struct {
	ArtworkRef  string `json:"artwork_ref"`
	Format      string `json:"format,omitempty"`
	IntendedUse string `json:"intended_use,omitempty"`
}

// RestorationMetadata is the typed payload for restoration requests.
type RestorationMetadata struct {
	ArtworkRef      string `json:"artwork_ref"`
	ConditionReport string `json:"condition_report,omitempty"`
	Urgency         string `json:"urgency,omitempty"`
}

// ValidateMetadata checks that raw is a well-formed payload for the given
// workflow kind. A nil or empty payload is accepted; anything else must
// strictly decode into the kind's typed struct and carry its required fields.
func ValidateMetadata(kind WorkflowKind, raw json.RawMessage) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	switch kind {
	case KindPublication:
		var m PublicationMetadata
		if err := strictDecode(raw, &m); err != nil {
			return err
		}
		if m.Title == "" {
			return fmt.Errorf("%w: publication metadata requires a title", ErrValidation)
		}
	case KindLegalDeposit:
		var m LegalDepositMetadata
		if err := strictDecode(raw, &m); err != nil {
			return err
		}
		if m.DepositNumber == "" || m.DepositorName == "" {
			return fmt.Errorf("%w: legal deposit metadata requires deposit_number and depositor_name", ErrValidation)
		}
	case KindReproduction:
		var m ReproductionMetadata
		if err := strictDecode(raw, &m); err != nil {
			return err
		}
		if m.ArtworkRef == "" {
			return fmt.Errorf("%w: reproduction metadata requires artwork_ref", ErrValidation)
		}
	case KindRestoration:
		var m RestorationMetadata
		if err := strictDecode(raw, &m); err != nil {
			return err
		}
		if m.ArtworkRef == "" {
			return fmt.Errorf("%w: restoration metadata requires artwork_ref", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown workflow kind %q", ErrValidation, kind)
	}
	return nil
}

func strictDecode(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
