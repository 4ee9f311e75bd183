package aggregator

/*
secagg — client for aggregating security metadata about domain names
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"bytes"
	"context"
)

// FileUpload submits one file to POST /aggregate-file. It satisfies the
// same Aggregate signature as Client so an upload can run through an
// orchestrator like any other submission.
type FileUpload struct {
	client *Client
	name   string
	data   []byte
}

// Upload returns a FileUpload that sends data under the file name name.
func (c *Client) Upload(name string, data []byte) *FileUpload {
	return &FileUpload{client: c, name: name, data: data}
}

// Name returns the file name sent to the backend.
func (u *FileUpload) Name() string {
	return u.name
}

// Aggregate uploads the file. The domain list is ignored; the backend splits
// the file itself.
func (u *FileUpload) Aggregate(ctx context.Context, _ []string) ([]Item, error) {
	return u.client.AggregateFile(ctx, u.name, bytes.NewReader(u.data))
}
