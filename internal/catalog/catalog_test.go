package catalog

import "testing"

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	tmpl, ok := c.FindByID("general-cinematic")
	if !ok {
		t.Fatal("expected general-cinematic template")
	}
	if tmpl.QuestionCount != 3 {
		t.Errorf("expected 3 questions, got %d", tmpl.QuestionCount)
	}

	if _, ok := c.FindByID("missing"); ok {
		t.Error("expected unknown template lookup to fail")
	}

	all := c.All()
	all[0].Name = "mutated"
	if again, _ := c.FindByID("general-cinematic"); again.Name == "mutated" {
		t.Error("All must return a copy")
	}
}
