package pipeline

import "testing"

func TestParseComposition(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  map[string]float64
		ok    bool
	}{
		{name: "material first", input: "Вискоза 97% Эластан 3%", want: map[string]float64{"Вискоза": 97, "Эластан": 3}, ok: true},
		{name: "number first", input: "97% вискоза, 3% эластан", want: map[string]float64{"Вискоза": 97, "Эластан": 3}, ok: true},
		{name: "single material", input: "100% хлопок", want: map[string]float64{"Хлопок": 100}, ok: true},
		{name: "label prefix", input: "Состав: хлопок 100%", want: map[string]float64{"Хлопок": 100}, ok: true},
		{name: "abbreviations", input: "П/Э 65%, П/А 35%", want: map[string]float64{"Полиэстер": 65, "Полиамид": 35}, ok: true},
		{name: "multi word material", input: "Шерсть 90% метанить 10%", want: map[string]float64{"Шерсть": 90, "Металлизированная нить": 10}, ok: true},
		{name: "decimal percent", input: "хлопок 97,5% эластан 2,5%", want: map[string]float64{"Хлопок": 97.5, "Эластан": 2.5}, ok: true},
		{name: "conjunction", input: "95% хлопок и 5% эластан", want: map[string]float64{"Хлопок": 95, "Эластан": 5}, ok: true},
		{name: "repeated material sums", input: "хлопок 50% хлопок 50%", want: map[string]float64{"Хлопок": 100}, ok: true},
		{name: "sum below 100", input: "хлопок 60% полиэстер 39%", ok: false},
		{name: "sum above 100", input: "хлопок 60% полиэстер 41%", ok: false},
		{name: "no percentages", input: "хлопок, полиэстер", ok: false},
		{name: "empty", input: "", ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseComposition(tc.input)
			if ok != tc.ok {
				t.Fatalf("ok=%v want %v (got %v)", ok, tc.ok, got)
			}
			if !tc.ok {
				return
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v want %v", got, tc.want)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Fatalf("got %v want %v", got, tc.want)
				}
			}
		})
	}
}
