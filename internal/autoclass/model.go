// Package autoclass splits a legal text into norms with a classification
// model and stores each norm as a pre-annotated document.
package autoclass

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"normative/api/internal/budget"
)

var ErrEmptyText = errors.New("text to classify is empty")

// Model returns the norms found in text, in reading order.
type Model interface {
	Classify(ctx context.Context, text string) ([]Norm, error)
}

// Scores is one head of the model output: a probability per value and the
// words that drove each value.
type Scores struct {
	Probability budget.Distribution
	Keywords    Keywords
}

type Norm struct {
	Paragraph     string
	Justification Scores
	LawType       Scores
}

// KeywordGroup is the list of words the model attributes to one value.
type KeywordGroup struct {
	Key   string
	Words []string
}

// Keywords keeps the groups in the order the model sent them.
type Keywords []KeywordGroup

func (k *Keywords) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*k = nil
		return nil
	}
	groups := orderedmap.New[string, []string]()
	if err := json.Unmarshal(data, groups); err != nil {
		return fmt.Errorf("decode keywords: %w", err)
	}
	out := make(Keywords, 0, groups.Len())
	for pair := groups.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, KeywordGroup{Key: pair.Key, Words: pair.Value})
	}
	*k = out
	return nil
}

func (k Keywords) MarshalJSON() ([]byte, error) {
	groups := orderedmap.New[string, []string]()
	for _, group := range k {
		words := group.Words
		if words == nil {
			words = []string{}
		}
		groups.Set(group.Key, words)
	}
	return groups.MarshalJSON()
}

// wireNorm is the payload shape the classification endpoint answers with.
type wireNorm struct {
	Paragraph string `json:"paragraph"`
	Results   struct {
		Justification struct {
			Probability budget.Distribution `json:"justification_probability"`
			Keywords    Keywords            `json:"justification_keywords"`
		} `json:"justification"`
		LawType struct {
			Probability budget.Distribution `json:"law_type_probability"`
			Keywords    Keywords            `json:"law_type_keywords"`
		} `json:"law_type"`
	} `json:"results"`
}

func (w wireNorm) norm() Norm {
	return Norm{
		Paragraph: w.Paragraph,
		Justification: Scores{
			Probability: w.Results.Justification.Probability,
			Keywords:    w.Results.Justification.Keywords,
		},
		LawType: Scores{
			Probability: w.Results.LawType.Probability,
			Keywords:    w.Results.LawType.Keywords,
		},
	}
}

// decodeNorms reads the endpoint payload, dropping norms without text.
func decodeNorms(data []byte) ([]Norm, error) {
	var items []wireNorm
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}
	norms := make([]Norm, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.Paragraph) == "" {
			continue
		}
		norms = append(norms, item.norm())
	}
	return norms, nil
}

// HTTPModel posts {"text": ...} to a classification endpoint.
type HTTPModel struct {
	url    string
	client *http.Client
}

func NewHTTPModel(url string, timeout time.Duration) *HTTPModel {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPModel{url: url, client: &http.Client{Timeout: timeout}}
}

func (m *HTTPModel) Classify(ctx context.Context, text string) ([]Norm, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build model request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call model: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read model response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return decodeNorms(payload)
}
