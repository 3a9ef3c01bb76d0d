package geoserver

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type workspaceBody struct {
	Workspace workspaceInfo `json:"workspace"`
}

type workspaceInfo struct {
	Name         string `json:"name"`
	NamespaceURI string `json:"namespaceURI,omitempty"`
}

type dataStoreBody struct {
	DataStore dataStoreInfo `json:"dataStore"`
}

type dataStoreInfo struct {
	Name                 string            `json:"name"`
	ConnectionParameters map[string]string `json:"connectionParameters"`
}

type featureTypeBody struct {
	FeatureType featureTypeInfo `json:"featureType"`
}

type featureTypeInfo struct {
	Name       string       `json:"name"`
	NativeName string       `json:"nativeName"`
	Title      string       `json:"title"`
	SRS        string       `json:"srs"`
	Enabled    bool         `json:"enabled"`
	Advertised bool         `json:"advertised"`
	Metadata   metadataInfo `json:"metadata"`
}

type metadataInfo struct {
	Entry []metadataEntry `json:"entry"`
}

type metadataEntry struct {
	Key   string `json:"@key"`
	Value string `json:"$"`
}

type styleBody struct {
	Style styleInfo `json:"style"`
}

type styleInfo struct {
	Name     string `json:"name"`
	Filename string `json:"filename"`
}

type layerBody struct {
	Layer layerInfo `json:"layer"`
}

type layerInfo struct {
	DefaultStyle nameRef `json:"defaultStyle"`
}

type nameRef struct {
	Name string `json:"name"`
}

// Ref is one entry of a GeoServer collection listing.
type Ref struct {
	Name string `json:"name"`
	Href string `json:"href,omitempty"`
}

// RefList decodes a collection member that GeoServer renders as a single
// object, a list of objects, or an empty string when there are none.
type RefList []Ref

func (l *RefList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if isEmptyJSON(data) {
		*l = nil
		return nil
	}
	switch data[0] {
	case '[':
		var refs []Ref
		if err := json.Unmarshal(data, &refs); err != nil {
			return err
		}
		*l = refs
	case '{':
		var ref Ref
		if err := json.Unmarshal(data, &ref); err != nil {
			return err
		}
		*l = RefList{ref}
	default:
		return fmt.Errorf("unexpected collection shape: %.40s", data)
	}
	return nil
}

// Names returns the entry names in order.
func (l RefList) Names() []string {
	names := make([]string, len(l))
	for i, r := range l {
		names[i] = r.Name
	}
	return names
}

func isEmptyJSON(data []byte) bool {
	return len(data) == 0 || bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`""`))
}

// decodeCollection unwraps {"<plural>": {"<singular>": ...}}.
func decodeCollection(body []byte, plural, singular string) (RefList, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, fmt.Errorf("decode %s: %w", plural, err)
	}
	raw := bytes.TrimSpace(outer[plural])
	if isEmptyJSON(raw) {
		return nil, nil
	}

	var inner map[string]json.RawMessage
	if err := json.Unmarshal(raw, &inner); err != nil {
		return nil, fmt.Errorf("decode %s: %w", plural, err)
	}
	var refs RefList
	if err := json.Unmarshal(orNull(inner[singular]), &refs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", singular, err)
	}
	return refs, nil
}

func orNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
