package ingestion

import "testing"

func TestInferDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{name: "chinese annual report", filename: "贵州茅台2023年年度报告.pdf", want: "2023"},
		{name: "chinese year and month", filename: "招商银行2024年06月半年报.pdf", want: "2024-06"},
		{name: "dashed month", filename: "cmb_2024-06_interim.pdf", want: "2024-06"},
		{name: "compact month", filename: "report_202303.pdf", want: "2023-03"},
		{name: "full date keeps year and month", filename: "filing-2022-12-31.pdf", want: "2022-12"},
		{name: "year only with suffix digits", filename: "fy2021_q4.pdf", want: "2021"},
		{name: "directory ignored", filename: "/data/2019/moutai.pdf", want: ""},
		{name: "no period", filename: "financial_qa.json", want: ""},
		{name: "not a plausible year", filename: "item_1234.json", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := InferDate(tt.filename); got != tt.want {
				t.Errorf("InferDate(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}
