package agent

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"path"
	"regexp"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"github.com/jorge-barreto/patchr/internal/scan"
	"github.com/jorge-barreto/patchr/internal/state"
)

const (
	embeddingDims   = 256
	minParagraphLen = 40
	defaultTopK     = 5
)

var tokenRe = regexp.MustCompile(`[a-z0-9_]+`)

// Recaller surfaces documentation paragraphs related to the request. Each
// call indexes the snapshot's README.md and docs/*.md|*.rst in a fresh
// in-memory collection.
type Recaller struct {
	K int // notes to return, default 5
}

func (r *Recaller) Recall(ctx context.Context, c *state.Constraints, tree scan.Tree) ([]string, error) {
	var query string
	if c != nil {
		query = strings.TrimSpace(c.Brief + " " + c.ProjectName)
	}
	docs := paragraphs(tree)
	if query == "" || len(docs) == 0 {
		return []string{}, nil
	}

	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection("architecture", nil, embed)
	if err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return nil, fmt.Errorf("indexing docs: %w", err)
	}

	k := r.K
	if k <= 0 {
		k = defaultTopK
	}
	if n := col.Count(); k > n {
		k = n
	}
	results, err := col.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying docs: %w", err)
	}
	notes := make([]string, 0, len(results))
	for _, res := range results {
		notes = append(notes, res.Content)
	}
	return notes, nil
}

// paragraphs splits the snapshot's docs into indexable chunks.
func paragraphs(tree scan.Tree) []chromem.Document {
	var docs []chromem.Document
	for _, e := range tree {
		if !isDoc(e.Path) || len(e.Content) == 0 {
			continue
		}
		text := strings.ReplaceAll(string(e.Content), "\r\n", "\n")
		for i, para := range strings.Split(text, "\n\n") {
			para = strings.TrimSpace(para)
			if len(para) <= minParagraphLen {
				continue
			}
			docs = append(docs, chromem.Document{
				ID:       fmt.Sprintf("%s#%d", e.Path, i),
				Content:  para,
				Metadata: map[string]string{"source": e.Path},
			})
		}
	}
	return docs
}

func isDoc(p string) bool {
	if p == "README.md" {
		return true
	}
	dir, file := path.Split(p)
	ext := path.Ext(file)
	return dir == "docs/" && (ext == ".md" || ext == ".rst")
}

// embed is a deterministic hashed bag-of-words embedding. The last
// dimension is a constant bias so no vector is all zeros.
func embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, embeddingDims)
	for _, tok := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		v[h.Sum32()%(embeddingDims-1)]++
	}
	v[embeddingDims-1] = 0.01
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v, nil
}
