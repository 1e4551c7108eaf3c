// Teleterm
// Copyright (C) 2025  Teleterm Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gravitational/trace"
)

// RecurseCenter is the provider key for Recurse Center logins.
const RecurseCenter = "recurse_center"

const (
	recurseCenterAuthURL    = "https://www.recurse.com/oauth/authorize"
	recurseCenterTokenURL   = "https://www.recurse.com/oauth/token"
	recurseCenterProfileURL = "https://www.recurse.com/api/v1/profiles/me"
)

type recurseCenterProfile struct {
	Name   string              `json:"name"`
	Stints []recurseCenterStint `json:"stints"`
}

type recurseCenterStint struct {
	Batch     *recurseCenterBatch `json:"batch"`
	StartDate string              `json:"start_date"`
}

type recurseCenterBatch struct {
	ShortName string `json:"short_name"`
}

// displayName renders a profile the way other recursers know the person:
// the name plus the short name of the most recent batch, picked by the
// lexically largest start date.
func (p recurseCenterProfile) displayName() string {
	var latest *recurseCenterStint
	for i, stint := range p.Stints {
		if latest == nil || stint.StartDate > latest.StartDate {
			latest = &p.Stints[i]
		}
	}
	if latest == nil || latest.Batch == nil {
		return p.Name
	}
	return fmt.Sprintf("%s (%s)", p.Name, latest.Batch.ShortName)
}

func recurseCenterUsername(ctx context.Context, client *http.Client, profileURL, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, profileURL, nil)
	if err != nil {
		return "", trace.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := client.Do(req)
	if err != nil {
		return "", trace.Wrap(err, "fetching recurse center profile")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", trace.BadParameter("recurse center profile request failed: %v", resp.Status)
	}
	var profile recurseCenterProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", trace.Wrap(err, "parsing recurse center profile")
	}
	return profile.displayName(), nil
}
