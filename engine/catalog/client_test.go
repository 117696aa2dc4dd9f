package catalog

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewClient(srv.URL, "tok", "appBase", "tblExp"), srv
}

func TestGet_Success(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/appBase/tblExp/rec1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q", got)
		}
		io.WriteString(w, `{"id":"rec1","fields":{"Experience Name":"Rooftop Yoga","Price":"€25"}}`)
	})
	defer srv.Close()

	rec, err := c.Get(context.Background(), "rec1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != "rec1" || rec.Name() != "Rooftop Yoga" || rec.Price() != "€25" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestGet_NotFound(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer srv.Close()

	_, err := c.Get(context.Background(), "gone")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListAll_Pagination(t *testing.T) {
	calls := 0
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch r.URL.Query().Get("offset") {
		case "":
			io.WriteString(w, `{"records":[{"id":"rec1","fields":{}}],"offset":"page2"}`)
		case "page2":
			io.WriteString(w, `{"records":[{"id":"rec2","fields":{}}]}`)
		default:
			t.Errorf("unexpected offset %q", r.URL.Query().Get("offset"))
		}
	})
	defer srv.Close()

	records, err := c.ListAll(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 pages, got %d", calls)
	}
	if len(records) != 2 || records[0].ID != "rec1" || records[1].ID != "rec2" {
		t.Errorf("unexpected records: %+v", records)
	}
}

func TestListIDs(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("fields[]"); got != FieldName {
			t.Errorf("fields[] = %q", got)
		}
		io.WriteString(w, `{"records":[{"id":"a","fields":{}},{"id":"b","fields":{}}]}`)
	})
	defer srv.Close()

	ids, err := c.ListIDs(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("ids = %v", ids)
	}
}

func TestFeatured_FilterAndLimit(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("filterByFormula"); got != "{Featured}=TRUE()" {
			t.Errorf("filter = %q", got)
		}
		io.WriteString(w, `{"records":[
			{"id":"a","fields":{"Experience Name":"A","Featured":true}},
			{"id":"b","fields":{"Experience Name":"B","Featured":true}},
			{"id":"c","fields":{"Experience Name":"C","Featured":true}}
		]}`)
	})
	defer srv.Close()

	records, err := c.Featured(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected cap at 2, got %d", len(records))
	}
}

func TestListAll_ServerError(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	defer srv.Close()

	if _, err := c.ListAll(context.Background(), ""); err == nil {
		t.Fatal("expected error")
	}
}
