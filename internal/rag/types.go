// Package rag implements the document indexing and retrieval pipelines:
// splitting documents into overlapping chunks, embedding them through a
// gateway, persisting them in a vector store, and retrieving the passages
// most similar to a query.
package rag

// Document is a unit of text submitted for indexing.
type Document struct {
	// Source identifies where the text came from (file path, URL, upload name).
	// It is the key for re-indexing: indexing the same source again replaces
	// its previous records.
	Source string

	// Content is the full text of the document.
	Content string

	// Metadata is carried through to every stored record.
	Metadata map[string]string
}

// Chunk is one window of a split document.
type Chunk struct {
	Source  string
	Index   int // position within the document, starting at 0
	Content string
}

// Passage is a retrieved chunk with its similarity to the query.
type Passage struct {
	ID         string
	Source     string
	Content    string
	Metadata   map[string]string
	Similarity float32
}
