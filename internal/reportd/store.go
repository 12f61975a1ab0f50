package reportd

// DBPurpose identifies the reportd schema to the versioned-store check.
const DBPurpose = "TLSRPT-Reportd-DB"

var ddl = []string{
	"CREATE TABLE fetchjobs(day, fetcherindex, fetcher, retries default 0, status default 'new', " +
		"nexttry, its datetime default CURRENT_TIMESTAMP, PRIMARY KEY(day, fetcherindex))",
	"CREATE TABLE reportdata(day, domain, data, fetcher, fetcherindex, retries default 0, " +
		"status default 'new', nexttry, its datetime default CURRENT_TIMESTAMP, " +
		"PRIMARY KEY(day, domain, fetcher))",
	"CREATE TABLE reports(r_id INTEGER PRIMARY KEY ASC, day, domain, uniqid, tlsrptrecord, " +
		"report, its datetime default CURRENT_TIMESTAMP)",
	"CREATE TABLE destinations(destination, d_r_id INTEGER, retries default 0, status default 'new', " +
		"nexttry, its datetime default CURRENT_TIMESTAMP, PRIMARY KEY(destination, d_r_id), " +
		"FOREIGN KEY(d_r_id) REFERENCES reports(r_id))",
	"CREATE TABLE dbversion(version, installdate, purpose)",
}
