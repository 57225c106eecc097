package fetch

import (
	"encoding/json"

	"github.com/talocan/hharvest/store"
)

// searchResponse is the upstream vacancy search envelope. Items stay
// raw so the original payload can be persisted next to the extracted
// columns.
type searchResponse struct {
	Items   []json.RawMessage `json:"items"`
	Found   int               `json:"found"`
	Pages   int               `json:"pages"`
	Page    int               `json:"page"`
	PerPage int               `json:"per_page"`
}

type apiNamed struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type apiSalary struct {
	From     *int   `json:"from"`
	To       *int   `json:"to"`
	Currency string `json:"currency"`
}

type apiSnippet struct {
	Requirement    string `json:"requirement"`
	Responsibility string `json:"responsibility"`
}

// apiVacancy is one search item. The search endpoint returns a snippet
// instead of the full description; the columns mirror that.
type apiVacancy struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Employer     *apiNamed   `json:"employer"`
	Salary       *apiSalary  `json:"salary"`
	Experience   *apiNamed   `json:"experience"`
	Schedule     *apiNamed   `json:"schedule"`
	Employment   *apiNamed   `json:"employment"`
	Snippet      *apiSnippet `json:"snippet"`
	Area         *apiNamed   `json:"area"`
	PublishedAt  string      `json:"published_at"`
	AlternateURL string      `json:"alternate_url"`
}

// apiEmployer is the employer detail payload.
type apiEmployer struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	AlternateURL string `json:"alternate_url"`
}

// vacancyFromAPI maps a search item onto a store row. raw is persisted
// verbatim for later re-processing.
func vacancyFromAPI(item apiVacancy, raw json.RawMessage, filterID string) *store.Vacancy {
	v := &store.Vacancy{
		HHID:        item.ID,
		Title:       item.Name,
		PublishedAt: item.PublishedAt,
		URL:         item.AlternateURL,
		FilterID:    filterID,
		RawJSON:     string(raw),
	}
	if item.Employer != nil {
		v.Company = item.Employer.Name
		v.EmployerID = item.Employer.ID
	}
	if item.Salary != nil {
		v.SalaryFrom = item.Salary.From
		v.SalaryTo = item.Salary.To
		v.Currency = item.Salary.Currency
	}
	if item.Experience != nil {
		v.Experience = item.Experience.Name
	}
	if item.Schedule != nil {
		v.Schedule = item.Schedule.Name
	}
	if item.Employment != nil {
		v.Employment = item.Employment.Name
	}
	if item.Snippet != nil {
		v.Description = item.Snippet.Responsibility
		if item.Snippet.Requirement != "" {
			v.KeySkills = []string{item.Snippet.Requirement}
		}
	}
	if item.Area != nil {
		v.Area = item.Area.Name
	}
	return v
}
