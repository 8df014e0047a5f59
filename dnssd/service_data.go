package dnssd

import "strings"

// ServiceData is a resolved service instance. Immutable once emitted;
// a browser hands the same record to the disappearance observers that
// it handed to the discovery observers.
type ServiceData struct {
	// Name is the service instance name, unique per browser.
	Name string
	// Type is the value of the "service=" TXT record.
	Type string
	// DSN is the transport endpoint URI from the "dsn=" TXT record.
	// May be empty; consumers treat absence as non-usable.
	DSN string
	// UUID identifies the publishing installation, from "uuid=".
	UUID string
	// Instance is the value of the "instance=" TXT record.
	Instance string
	// Txt holds the raw TXT records.
	Txt []string
}

// newServiceData parses the recognized TXT keys of a resolved entry.
func newServiceData(name string, txt []string) *ServiceData {
	data := &ServiceData{
		Name: name,
		Txt:  append([]string{}, txt...),
	}
	for _, record := range txt {
		key, value, ok := strings.Cut(record, "=")
		if !ok {
			continue
		}
		switch key {
		case "dsn":
			data.DSN = value
		case "service":
			data.Type = value
		case "instance":
			data.Instance = value
		case "uuid":
			data.UUID = value
		}
	}
	return data
}
