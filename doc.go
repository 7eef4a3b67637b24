/*
Package cfddns keeps a single DNS record pointed at the current public IP address.

Usage will always start with [cfddns.New],
which returns an [Updater] for one zone and one record name.
New requires a [Provider] implementation for a DNS provider, such as the one registered by [UsingCloudflare].
By default the current IP is discovered with [WebResolver] over [DefaultProviders];
see [UsingResolver] for other options.

Each call to [Updater.Run] is a complete, independent cycle:
the zone and record are looked up by exact name,
the IP is discovered,
and the record is written only if its address differs.
Nothing is cached between runs, so Run is meant to be called from a scheduler such as cron or a systemd timer.
*/
package cfddns
