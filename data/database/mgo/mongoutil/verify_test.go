package mongoutil

import (
	"WaRelay/tools/errs"
	"errors"
	"testing"
)

func TestValidateAndSetDefaults(t *testing.T) {
	c := &Config{Address: []string{"h1:27017", "h2:27017"}, Database: "wa", Username: "u", Password: "p"}
	if err := c.ValidateAndSetDefaults(); err != nil {
		t.Fatal(err)
	}
	want := "mongodb://u:p@h1:27017,h2:27017/wa?authSource=wa&maxPoolSize=100"
	if c.Uri != want {
		t.Fatalf("uri = %s", c.Uri)
	}
	if c.MaxRetry != defaultMaxRetry {
		t.Fatalf("retry = %d", c.MaxRetry)
	}

	anon := &Config{Address: []string{"h1"}, Database: "wa", AuthSource: "admin", MaxPoolSize: 5}
	_ = anon.ValidateAndSetDefaults()
	if anon.Uri != "mongodb://h1/wa?authSource=admin&maxPoolSize=5" {
		t.Fatalf("uri = %s", anon.Uri)
	}
}

func TestValidateRejects(t *testing.T) {
	for _, c := range []*Config{{Database: "wa"}, {Uri: "mongodb://x"}} {
		if err := c.ValidateAndSetDefaults(); !errors.Is(err, &errs.ErrArgs) {
			t.Errorf("%+v: err = %v", c, err)
		}
	}
}
