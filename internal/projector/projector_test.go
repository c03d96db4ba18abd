package projector

import "testing"

func TestFormatNameKeepsOperationFirstInPostfixMode(t *testing.T) {
	naming := NamingOptions{
		UsePostfix:        true,
		ServiceIdentifier: "Northwind_svc",
		MaxNameLength:     defaultMaxNameLength,
	}
	got := formatName("filter", "Products", naming)
	want := "filter_Products_for_Northwind_svc"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatNameKeepsOperationFirstInPrefixMode(t *testing.T) {
	naming := NamingOptions{
		UsePostfix:        false,
		ServiceIdentifier: "Northwind_svc",
		MaxNameLength:     defaultMaxNameLength,
	}
	got := formatName("filter", "Products", naming)
	want := "Northwind_svc_filter_Products"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatNameCustomPrefixKeepsOperationFirst(t *testing.T) {
	naming := NamingOptions{
		UsePostfix:        false,
		Prefix:            "myprefix",
		ServiceIdentifier: "Northwind_svc",
		MaxNameLength:     defaultMaxNameLength,
	}
	got := formatName("get", "Products", naming)
	want := "myprefix_get_Products"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatNameWithoutEntitySet(t *testing.T) {
	naming := NamingOptions{
		UsePostfix:        true,
		ServiceIdentifier: "Northwind_svc",
		MaxNameLength:     defaultMaxNameLength,
	}
	got := formatName("odata_service_info", "", naming)
	want := "odata_service_info_for_Northwind_svc"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
