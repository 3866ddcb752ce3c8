package models

// Document is one loaded source unit: a text or markdown file, a single
// PDF page, or a fetched web page.
type Document struct {
	ID       string
	Source   string
	Title    string
	Content  string
	Metadata map[string]interface{}
}

// Chunk is a retrieval unit cut from a Document. Index preserves the cut
// order so stored segments stay traceable back to their position.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Content    string
	Metadata   map[string]interface{}
}

// CloneMetadata returns a shallow copy of the document metadata so chunks
// can carry it without sharing the map.
func (d Document) CloneMetadata() map[string]interface{} {
	if d.Metadata == nil {
		return nil
	}
	out := make(map[string]interface{}, len(d.Metadata))
	for k, v := range d.Metadata {
		out[k] = v
	}
	return out
}
