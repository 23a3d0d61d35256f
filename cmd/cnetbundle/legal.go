// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

// Licensing information
const legal = `cnetbundle is Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

The binary version of this program uses several open source libraries and components, which come with their own licensing terms:

| Library                                                                                    | License type                            | Usage    |
|--------------------------------------------------------------------------------------------|-----------------------------------------|----------|
| [github.com/benbjohnson/clock](https://github.com/benbjohnson/clock)                       | MIT License                             |          |
| [github.com/gin-gonic/gin](https://github.com/gin-gonic/gin)                               | MIT License                             |          |
| [github.com/go-playground/validator/](https://github.com/go-playground/validator/)         | MIT License                             | indirect |
| [github.com/golang/geo](https://github.com/golang/geo)                                     | Apache 2.0 License                      |          |
| [github.com/json-iterator/go](https://github.com/json-iterator/go)                         | MIT License                             | indirect |
| [github.com/lucasb-eyer/go-colorful](https://github.com/lucasb-eyer/go-colorful)           | MIT License                             |          |
| [github.com/mattn/go-isatty](https://github.com/mattn/go-isatty)                           | MIT License                             | indirect |
| [github.com/pbnjay/memory](https://github.com/pbnjay/memory)                               | BSD 3-Clause "New" or "Revised" License |          |
| [github.com/pkg/errors](https://github.com/pkg/errors)                                     | BSD 2-Clause                            |          |
| [github.com/prometheus/client_golang](https://github.com/prometheus/client_golang)         | Apache 2.0 License                      |          |
| [github.com/samber/lo](https://github.com/samber/lo)                                       | MIT License                             |          |
| [github.com/valyala/fastrand](https://github.com/valyala/fastrand)                         | MIT License                             |          |
| [go.uber.org/multierr](https://github.com/uber-go/multierr)                                | MIT License                             |          |
| [go.uber.org/zap](https://github.com/uber-go/zap)                                          | MIT License                             |          |
| [golang.org/x/image](https://golang.org/x/image)                                           | BSD 3-Clause                            |          |
| [golang.org/x/sys](https://golang.org/x/sys)                                               | BSD 3-Clause                            | indirect |
| [golang.org/x/text](https://golang.org/x/text)                                             | BSD 3-Clause                            | indirect |
| [gonum.org/v1/gonum](https://gonum.org/v1/gonum)                                           | BSD 3-Clause "New" or "Revised" License |          |
| [google.golang.org/protobuf](https://google.golang.org/protobuf)                           | BSD 3-Clause                            |          |
| [gopkg.in/yaml.v3](https://gopkg.in/yaml.v3)                                               | MIT and Apache 2.0 License              |          |
`
