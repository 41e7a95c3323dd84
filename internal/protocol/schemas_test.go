package protocol

import (
	"encoding/json"
	"testing"
)

func TestValidateInit(t *testing.T) {
	ok := []byte(`{
	  "type":"init",
	  "id":"p1",
	  "profileId":"prof-1",
	  "you":{"x":1,"y":2,"aimX":1,"aimY":0,"zoneId":"z1"},
	  "safeZones":[{"id":"hub","facilities":{"trading":{"x":10,"y":10,"radius":4}}}],
	  "oreNodes":[{"x":5,"y":5,"type":"iron","amount":12}],
	  "profile":{"isAdmin":true}
	}`)
	if err := ValidateInit(ok); err != nil {
		t.Fatalf("validate init: %v", err)
	}

	missingProfile := []byte(`{"type":"init","id":"p1","you":{"x":1,"y":2},"safeZones":[],"oreNodes":[],"profile":{}}`)
	if err := ValidateInit(missingProfile); err == nil {
		t.Fatalf("expected missing profileId to be rejected")
	}

	badNode := []byte(`{"type":"init","id":"p1","profileId":"x","you":{"x":1,"y":2},"safeZones":[],"oreNodes":[{"x":1,"y":1,"type":"iron","amount":-1}],"profile":{}}`)
	if err := ValidateInit(badNode); err == nil {
		t.Fatalf("expected negative ore amount to be rejected")
	}
}

func decodeListings(t *testing.T, frame string) []Listing {
	t.Helper()
	var m TradingListingsMsg
	if err := json.Unmarshal([]byte(frame), &m); err != nil {
		t.Fatalf("decode %s: %v", frame, err)
	}
	return m.Listings
}

func TestValidateListingDisplay(t *testing.T) {
	ls := decodeListings(t, `{"type":"trading","action":"listings","listings":[
	  {"id":"L1","item":"iron","quantity":2,"unitPrice":45,"price":90,"label":"2x iron","seller":"alice","expiresAt":1700000000},
	  {"id":"L2","item":"iron","quantity":2,"price":90}
	]}`)
	if err := ValidateListingDisplay(ls[0]); err != nil {
		t.Fatalf("validate listing: %v", err)
	}
	if err := ValidateListingDisplay(ls[1]); err == nil {
		t.Fatalf("expected listing without display fields to be rejected")
	}
}

func TestValidateListingDisplayUsesServerObject(t *testing.T) {
	// A free listing: unitPrice 0 is present on the wire even though the
	// struct would omit it when re-encoded.
	ls := decodeListings(t, `{"type":"trading","action":"listings","listings":[
	  {"id":"L3","item":"iron","quantity":1,"unitPrice":0,"price":0,"label":"free iron","seller":"bob","expiresAt":1700000000}
	]}`)
	if len(ls) == 0 {
		t.Fatalf("no listings decoded")
	}
	if err := ValidateListingDisplay(ls[0]); err != nil {
		t.Fatalf("zero unit price rejected: %v", err)
	}

	built := Listing{ID: "L5", Item: "iron", Quantity: 1, UnitPrice: 5, Price: 5, Label: "x", Seller: "s", ExpiresAt: 1}
	if err := ValidateListingDisplay(built); err == nil {
		t.Fatalf("a listing that never came from the server must not validate")
	}
}
