package httpmiddleware

import "testing"

func TestTokenBucketExhausts(t *testing.T) {
	l := NewTokenBucket(3, 60)
	for i := 0; i < 3; i++ {
		if !l.allow("1.2.3.4") {
			t.Fatalf("request %d denied before capacity was spent", i)
		}
	}
	if l.allow("1.2.3.4") {
		t.Fatal("request allowed past capacity")
	}
}

func TestTokenBucketPerKey(t *testing.T) {
	l := NewTokenBucket(1, 60)
	if !l.allow("a") {
		t.Fatal("first key denied")
	}
	if !l.allow("b") {
		t.Fatal("second key shares the first key's bucket")
	}
	if l.allow("a") {
		t.Fatal("exhausted key allowed")
	}
}
