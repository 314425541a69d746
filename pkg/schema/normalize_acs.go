package schema

import (
	"encoding/json"
	"time"

	"github.com/cuemby/scanarchiver/pkg/scanerr"
)

// NormalizeACSContract converts one ACS page entry into the canonical
// ACSContract row. contract_id falls back to event_id when absent. In
// strict mode, a missing contract_id or template_id after the fallback
// fails with an ACSValidationError; in loose mode the caller gets a
// partially-filled record and a warning is expected at the call site.
func NormalizeACSContract(event Envelope, migrationID int64, recordTime, snapshotTime time.Time, opts NormalizeOptions) (*ACSContract, error) {
	data, _ := json.Marshal(event)

	contractID := firstNonEmpty(getStr(event, "contract_id"), getStr(event, "event_id"))
	eventID := getStr(event, "event_id")
	templateID := getStr(event, "template_id")

	var missing []string
	if contractID == "" {
		missing = append(missing, "contract_id")
	}
	if templateID == "" {
		missing = append(missing, "template_id")
	}
	if len(missing) > 0 && opts.Strict {
		return nil, scanerr.NewACSValidationError(contractID, missing)
	}

	parsed := ParseTemplateID(templateID)

	c := &ACSContract{
		ContractID:   contractID,
		EventID:      eventID,
		TemplateID:   templateID,
		PackageName:  parsed.PackageName,
		ModuleName:   parsed.ModuleName,
		EntityName:   parsed.EntityName,
		Parties:      getStringSlice(event["signatories"]),
		MigrationID:  migrationID,
		RecordTime:   recordTime,
		SnapshotTime: snapshotTime,
		Payload:      stringifyCreateArguments(event),
		Raw:          string(data),
	}
	return c, nil
}

func stringifyCreateArguments(event Envelope) string {
	v, ok := event["create_arguments"]
	if !ok {
		return ""
	}
	if s, ok := asString(v); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
