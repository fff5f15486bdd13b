// Package demo is a small product catalog split across three collaborators
// (catalog, reviews, recommendations). It backs the example configuration
// and end-to-end tests.
package demo

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hanpama/batchgraph/internal/invoker"
)

//go:embed schema.graphql
var SDL string

// Collaborators lists the ids the demo schema refers to.
var Collaborators = []string{"catalog", "recommendations", "reviews"}

type Product struct {
	ID       string
	Name     string
	SKU      string
	Price    float64
	Category string
}

func (p Product) value() map[string]any {
	return map[string]any{
		"id":       p.ID,
		"name":     p.Name,
		"sku":      p.SKU,
		"price":    p.Price,
		"category": p.Category,
	}
}

type Review struct {
	ID        string
	ProductID string
	Rating    int
	Body      string
}

func (r Review) value() map[string]any {
	v := map[string]any{"id": r.ID, "productId": r.ProductID, "rating": r.Rating}
	if r.Body != "" {
		v["body"] = r.Body
	}
	return v
}

// Store holds the demo data shared by the three collaborators.
type Store struct {
	mu       sync.RWMutex
	products map[string]Product
	order    []string
	reviews  []Review
	related  map[string][]string
}

// NewStore returns a store seeded with five products and a few reviews.
func NewStore() *Store {
	s := &Store{products: map[string]Product{}, related: map[string][]string{}}
	for _, p := range []Product{
		{ID: "p1", Name: "The Go Programming Language", SKU: "BK-001", Price: 39.5, Category: "BOOKS"},
		{ID: "p2", Name: "Concurrency in Go", SKU: "BK-002", Price: 34, Category: "BOOKS"},
		{ID: "p3", Name: "Kind of Blue", SKU: "MU-001", Price: 12, Category: "MUSIC"},
		{ID: "p4", Name: "A Love Supreme", SKU: "MU-002", Price: 11, Category: "MUSIC"},
		{ID: "p5", Name: "Go (board game)", SKU: "GM-001", Price: 45, Category: "GAMES"},
	} {
		s.products[p.ID] = p
		s.order = append(s.order, p.ID)
	}
	s.reviews = []Review{
		{ID: "r1", ProductID: "p1", Rating: 5, Body: "The reference."},
		{ID: "r2", ProductID: "p1", Rating: 4},
		{ID: "r3", ProductID: "p2", Rating: 5, Body: "Channels finally clicked."},
		{ID: "r4", ProductID: "p3", Rating: 5},
		{ID: "r5", ProductID: "p5", Rating: 3, Body: "Hard to learn."},
	}
	s.related = map[string][]string{
		"p1": {"p2", "p5"},
		"p2": {"p1"},
		"p3": {"p4"},
		"p4": {"p3"},
		"p5": {"p1", "p2", "p3", "p4"},
	}
	return s
}

// Handlers returns the three collaborators backed by s.
func (s *Store) Handlers() invoker.Set {
	return invoker.Set{
		"catalog":         invoker.Func(s.catalog),
		"reviews":         invoker.Func(s.reviewsFetch),
		"recommendations": invoker.Func(s.recommendations),
	}
}

func unsupported(k invoker.Key) invoker.Result {
	return invoker.Result{Err: &invoker.KeyError{Code: "UNIMPLEMENTED", Message: fmt.Sprintf("unknown operation %q", k.Operation)}}
}

func intArg(args map[string]any, name string, def int) int {
	if v, ok := args[name].(float64); ok {
		return int(v)
	}
	return def
}

func (s *Store) catalog(ctx context.Context, req invoker.Request) (map[invoker.Key]invoker.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[invoker.Key]invoker.Result, len(req.Keys))
	for _, k := range req.Keys {
		switch k.Operation {
		case "product":
			if p, ok := s.products[k.ID]; ok {
				out[k] = invoker.Result{Value: p.value()}
			}
		case "search":
			args, err := k.DecodeArgs()
			if err != nil {
				out[k] = invoker.Result{Err: err}
				continue
			}
			term, _ := args["term"].(string)
			limit := intArg(args, "first", 5)
			found := []any{}
			for _, id := range s.order {
				p := s.products[id]
				if len(found) < limit && strings.Contains(strings.ToLower(p.Name), strings.ToLower(term)) {
					found = append(found, p.value())
				}
			}
			out[k] = invoker.Result{Value: found}
		default:
			out[k] = unsupported(k)
		}
	}
	return out, nil
}

func (s *Store) reviewsFetch(ctx context.Context, req invoker.Request) (map[invoker.Key]invoker.Result, error) {
	out := make(map[invoker.Key]invoker.Result, len(req.Keys))
	for _, k := range req.Keys {
		args, err := k.DecodeArgs()
		if err != nil {
			out[k] = invoker.Result{Err: err}
			continue
		}
		switch k.Operation {
		case "reviewsByProduct":
			reviews := s.byProduct(k.ID)
			if n := intArg(args, "first", 10); n >= 0 && n < len(reviews) {
				reviews = reviews[:n]
			}
			list := make([]any, len(reviews))
			for i, r := range reviews {
				list[i] = r.value()
			}
			out[k] = invoker.Result{Value: list}
		case "reviewCount":
			out[k] = invoker.Result{Value: len(s.byProduct(k.ID))}
		case "averageRating":
			reviews := s.byProduct(k.ID)
			if len(reviews) == 0 {
				continue
			}
			sum := 0
			for _, r := range reviews {
				sum += r.Rating
			}
			out[k] = invoker.Result{Value: float64(sum) / float64(len(reviews))}
		case "addReview":
			out[k] = s.addReview(args)
		default:
			out[k] = unsupported(k)
		}
	}
	return out, nil
}

// byProduct returns the reviews of a product, most recent first.
func (s *Store) byProduct(productID string) []Review {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Review
	for i := len(s.reviews) - 1; i >= 0; i-- {
		if s.reviews[i].ProductID == productID {
			out = append(out, s.reviews[i])
		}
	}
	return out
}

func (s *Store) addReview(args map[string]any) invoker.Result {
	input, _ := args["input"].(map[string]any)
	productID, _ := input["productId"].(string)
	rating := intArg(input, "rating", 0)
	body, _ := input["body"].(string)
	if rating < 1 || rating > 5 {
		return invoker.Result{Err: &invoker.KeyError{Code: "INVALID_ARGUMENT", Message: "rating must be between 1 and 5"}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[productID]; !ok {
		return invoker.Result{Err: &invoker.KeyError{Code: "NOT_FOUND", Message: fmt.Sprintf("no product %q", productID)}}
	}
	r := Review{ID: fmt.Sprintf("r%d", len(s.reviews)+1), ProductID: productID, Rating: rating, Body: body}
	s.reviews = append(s.reviews, r)
	return invoker.Result{Value: r.value()}
}

func (s *Store) recommendations(ctx context.Context, req invoker.Request) (map[invoker.Key]invoker.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[invoker.Key]invoker.Result, len(req.Keys))
	for _, k := range req.Keys {
		if k.Operation != "recommendations" {
			out[k] = unsupported(k)
			continue
		}
		args, err := k.DecodeArgs()
		if err != nil {
			out[k] = invoker.Result{Err: err}
			continue
		}
		ids := append([]string(nil), s.related[k.ID]...)
		sort.Strings(ids)
		if n := intArg(args, "first", 3); n >= 0 && n < len(ids) {
			ids = ids[:n]
		}
		list := make([]any, 0, len(ids))
		for _, id := range ids {
			list = append(list, s.products[id].value())
		}
		out[k] = invoker.Result{Value: list}
	}
	return out, nil
}
