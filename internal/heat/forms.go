package heat

import (
	"fmt"

	"heatbot/internal/config"
)

// FormLocators are the locator chains drivers use to operate the target's own UI.
type FormLocators struct {
	Username []Locator
	Password []Locator
	Submit   []Locator
	Search   []Locator
	Results  []Locator
}

// DefaultFormLocators know the classic ASP login (txtuserId/txtPassword), the newer
// HEAT web client and generic fallbacks.
func DefaultFormLocators() FormLocators {
	return FormLocators{
		Username: []Locator{
			Attr("name=txtuserId"), ID("UserName"), Attr("name=UserName"),
			Attr("name=username"), Attr("autocomplete=username"), CSS("form input[type='text']"),
		},
		Password: []Locator{
			Attr("name=txtPassword"), ID("Password"), Attr("name=Password"),
			Attr("name=password"), CSS("input[type='password']"),
		},
		Submit: []Locator{
			Attr("name=submit"), ID("LoginButton"), CSS("input[type='submit']"),
			CSS("button[type='submit']"), CSS("form button"),
		},
		Search: []Locator{
			Attr("name=txtSearch"), ID("SearchText"), Attr("name=search"),
			CSS("input[type='search']"), Attr("placeholder=Search"), Attr("placeholder=Buscar"),
		},
		Results: DefaultResultLocators(),
	}
}

// FormLocatorsFromConfig replaces each default chain that the target config overrides.
func FormLocatorsFromConfig(t config.TargetConfig) (FormLocators, error) {
	out := DefaultFormLocators()
	overrides := []struct {
		name string
		raw  []config.LocatorConfig
		dst  *[]Locator
	}{
		{"username_locators", t.UsernameLocators, &out.Username},
		{"password_locators", t.PasswordLocators, &out.Password},
		{"submit_locators", t.SubmitLocators, &out.Submit},
		{"search_locators", t.SearchLocators, &out.Search},
		{"result_locators", t.ResultLocators, &out.Results},
	}
	for _, o := range overrides {
		if len(o.raw) == 0 {
			continue
		}
		locs, err := LocatorsFromConfig(o.raw)
		if err != nil {
			return out, fmt.Errorf("target.%s: %w", o.name, err)
		}
		*o.dst = locs
	}
	return out, nil
}
