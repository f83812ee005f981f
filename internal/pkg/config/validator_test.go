package config

import "testing"

func TestValidateCronSchedule(t *testing.T) {
	valid := []string{
		"30 5 * * *",
		"*/10 * * * *",
		"0 9 * * 1-5",
		"@every 30s",
		"@hourly",
	}
	for _, schedule := range valid {
		if err := ValidateCronSchedule(schedule); err != nil {
			t.Errorf("ValidateCronSchedule(%q) = %v, want nil", schedule, err)
		}
	}

	invalid := []string{
		"",
		"not a schedule",
		"61 * * * *",
		"* * * *",
	}
	for _, schedule := range invalid {
		if err := ValidateCronSchedule(schedule); err == nil {
			t.Errorf("ValidateCronSchedule(%q) = nil, want error", schedule)
		}
	}
}

func TestValidateURL(t *testing.T) {
	valid := []string{
		"http://localhost:8080/stream",
		"https://api.example.com/v1/chat",
	}
	for _, u := range valid {
		if err := ValidateURL(u); err != nil {
			t.Errorf("ValidateURL(%q) = %v, want nil", u, err)
		}
	}

	invalid := []string{
		"",
		"ftp://example.com/file",
		"/relative/path",
		"http://",
	}
	for _, u := range invalid {
		if err := ValidateURL(u); err == nil {
			t.Errorf("ValidateURL(%q) = nil, want error", u)
		}
	}
}
