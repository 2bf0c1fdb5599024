package i18n

import "testing"

func TestGetCatalogFallback(t *testing.T) {
	base := GetCatalog("en-US")
	if base == nil {
		t.Fatal("expected base catalog")
	}
	if got := GetCatalog(""); got != base {
		t.Fatal("expected empty locale to use en-US catalog")
	}
	if got := GetCatalog("missing-locale"); got != base {
		t.Fatal("expected unknown locale to fall back to en-US catalog")
	}
	if got := GetCatalog("ja-JP"); got != base {
		t.Fatalf("expected unsupported locale to fall back, got %s", got.Locale())
	}
}

func TestResolveLocale(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "pt-BR", want: "pt-BR"},
		{in: "pt", want: "pt-BR"},
		{in: "en-GB", want: "en-US"},
		{in: "fr-FR,pt-BR;q=0.8", want: "pt-BR"},
		{in: "!!", want: "en-US"},
	}
	for _, tt := range tests {
		if got := ResolveLocale(tt.in); got != tt.want {
			t.Fatalf("ResolveLocale(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCatalogsCoverSameCodes(t *testing.T) {
	for code := range enUSCatalog.messages {
		if _, ok := ptBRCatalog.messages[code]; !ok {
			t.Fatalf("pt-BR catalog missing %s", code)
		}
	}
	if len(enUSCatalog.messages) != len(ptBRCatalog.messages) {
		t.Fatalf("catalog sizes differ: en-US=%d pt-BR=%d", len(enUSCatalog.messages), len(ptBRCatalog.messages))
	}
}

func TestFormatRendersMetadata(t *testing.T) {
	got := GetCatalog("en-US").Format(CodeAlreadyRegistered, map[string]string{"VehicleID": "VIN-7"})
	if got != "Vehicle VIN-7 is already registered." {
		t.Fatalf("Format = %q", got)
	}
}

func TestFormatFallbacks(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code": "hello {{.Name}}",
	})

	if cat.Format("unknown", nil) != "unknown" {
		t.Fatal("expected code fallback when template missing")
	}
	if cat.Format("code", nil) != "hello <no value>" {
		t.Fatal("expected template to render missing metadata")
	}
}

func TestFormatTemplateErrorFallback(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code": "{{ if .Name }}",
	})
	if cat.Format("code", map[string]string{"Name": "X"}) != "{{ if .Name }}" {
		t.Fatal("expected template fallback on parse error")
	}
}

func TestRegisterCatalog(t *testing.T) {
	custom := NewCatalog("custom", map[Code]string{"code": "ok"})
	RegisterCatalog("custom", custom)
	if got := GetCatalog("custom"); got != custom {
		t.Fatal("expected registered catalog")
	}
}
