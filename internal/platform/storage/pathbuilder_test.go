package storage

import "testing"

func TestBuildFolder(t *testing.T) {
	got, err := BuildFolder("/mercadoparceiro/", "p-1", PurposeProduct)
	if err != nil {
		t.Fatalf("BuildFolder: %v", err)
	}
	if got != "mercadoparceiro/partners/p-1/products" {
		t.Fatalf("unexpected folder %q", got)
	}

	got, err = BuildFolder("", "p-1", PurposeLogo)
	if err != nil || got != "partners/p-1/logos" {
		t.Fatalf("expected folder without root, got %q %v", got, err)
	}
}

func TestBuildFolderRejectsInvalidInput(t *testing.T) {
	if _, err := BuildFolder("root", "../p", PurposeProduct); err == nil {
		t.Fatal("expected traversal error")
	}
	if _, err := BuildFolder("root", "a/b", PurposeProduct); err == nil {
		t.Fatal("expected path separator error")
	}
	if _, err := BuildFolder("root", "p-1", AssetPurpose("avatars")); err == nil {
		t.Fatal("expected unsupported purpose error")
	}
}
