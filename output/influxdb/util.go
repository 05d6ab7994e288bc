package influxdb

import (
	"fmt"
	"strings"

	client "github.com/influxdata/influxdb1-client/v2"

	"github.com/liuxd6825/loadrun/lib/consts"
)

// FieldKind is the type a tag value is converted to when it is written as a
// field.
type FieldKind int

// Supported field kinds.
const (
	String FieldKind = iota
	Int
	Float
	Bool
)

// MakeClient creates an HTTP client, or a UDP one for udp:// addresses.
func MakeClient(conf Config) (client.Client, error) {
	if strings.HasPrefix(conf.Addr.String, "udp://") {
		return client.NewUDPClient(client.UDPConfig{
			Addr:        strings.TrimPrefix(conf.Addr.String, "udp://"),
			PayloadSize: int(conf.PayloadSize.Int64),
		})
	}
	addr := conf.Addr.String
	if addr == "" {
		addr = "http://localhost:8086"
	}
	return client.NewHTTPClient(client.HTTPConfig{
		Addr:               addr,
		Username:           conf.Username.String,
		Password:           conf.Password.String,
		UserAgent:          "loadrun/" + consts.Version,
		InsecureSkipVerify: conf.InsecureSkipTLSVerify.Bool,
	})
}

// MakeBatchConfig returns the batch settings for the configured database.
func MakeBatchConfig(conf Config) client.BatchPointsConfig {
	db := conf.DB.String
	if db == "" {
		db = "loadrun"
	}
	return client.BatchPointsConfig{
		Precision:        conf.Precision.String,
		Database:         db,
		RetentionPolicy:  conf.Retention.String,
		WriteConsistency: conf.Consistency.String,
	}
}

// MakeFieldKinds parses the tagsAsFields entries, given as name or
// name:type, into a lookup of tag names to field kinds.
func MakeFieldKinds(conf Config) (map[string]FieldKind, error) {
	fieldKinds := make(map[string]FieldKind)
	for _, tag := range conf.TagsAsFields {
		fieldName, fieldType, ok := strings.Cut(tag, ":")
		if !ok {
			fieldType = "string"
		}
		if _, found := fieldKinds[fieldName]; found {
			return nil, fmt.Errorf("a tag name (%s) shows up more than once in InfluxDB field type configurations", fieldName)
		}

		switch fieldType {
		case "string":
			fieldKinds[fieldName] = String
		case "bool":
			fieldKinds[fieldName] = Bool
		case "float":
			fieldKinds[fieldName] = Float
		case "int":
			fieldKinds[fieldName] = Int
		default:
			return nil, fmt.Errorf("an invalid type (%s) is specified for an InfluxDB field (%s)",
				fieldType, fieldName)
		}
	}
	return fieldKinds, nil
}
