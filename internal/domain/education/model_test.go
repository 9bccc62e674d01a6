package education

import "testing"

func TestView_HasAnyTag(t *testing.T) {
	risk := map[string]bool{"low-adherence": true, "probable-abandonment": true}

	tests := []struct {
		name string
		tags []string
		want bool
	}{
		{name: "no tags", tags: nil, want: false},
		{name: "unrelated tags", tags: []string{"nutrition", "family"}, want: false},
		{name: "one matching tag", tags: []string{"nutrition", "probable-abandonment"}, want: true},
		{name: "mixed case content tag", tags: []string{"Low-Adherence"}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &View{Tags: tt.tags}
			if got := v.HasAnyTag(risk); got != tt.want {
				t.Errorf("HasAnyTag(%v) = %v, want %v", tt.tags, got, tt.want)
			}
		})
	}
}
